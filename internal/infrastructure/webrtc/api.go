package webrtc

import (
	"fmt"
	"time"

	"meshvoice/pkg/retry"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds the per-session tunables shared by every peer session.
type Config struct {
	ICEServers        []webrtc.ICEServer
	PortMin           uint16
	PortMax           uint16
	DataChannelLabel  string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	OfferRetry        retry.Config
	ResyncInterval    time.Duration
	PionLogLevel      string
}

// DefaultConfig matches the timings peers on the mesh expect of each other.
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		DataChannelLabel:  "data",
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  5 * time.Second,
		OfferRetry:        retry.Fixed(6 * time.Second),
		ResyncInterval:    30 * time.Second,
		PionLogLevel:      "warn",
	}
}

// newAPI builds the pion API every transport session is created from.
func newAPI(cfg Config, logger *zap.Logger) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: newZapLoggerFactory(logger, cfg.PionLogLevel),
	}
	if cfg.PortMin != 0 && cfg.PortMax != 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

func (c Config) peerConnectionConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:   c.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}
}
