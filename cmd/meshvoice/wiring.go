package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/internal/core/services"
	"meshvoice/internal/infrastructure/media"
	"meshvoice/internal/infrastructure/mirror"
	"meshvoice/internal/infrastructure/relay"
	webrtcinfra "meshvoice/internal/infrastructure/webrtc"
	"meshvoice/pkg/config"
	"meshvoice/pkg/retry"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func sessionConfig(cfg *config.Config) webrtcinfra.Config {
	out := webrtcinfra.DefaultConfig()

	if len(cfg.WebRTC.ICEServers) > 0 {
		out.ICEServers = out.ICEServers[:0]
		for _, s := range cfg.WebRTC.ICEServers {
			out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	}
	out.PortMin = cfg.WebRTC.PortRange.Min
	out.PortMax = cfg.WebRTC.PortRange.Max
	out.DataChannelLabel = cfg.WebRTC.DataChannelLabel
	out.PionLogLevel = cfg.WebRTC.LogLevel

	out.HeartbeatInterval = cfg.Session.HeartbeatInterval
	out.HeartbeatTimeout = cfg.Session.HeartbeatTimeout
	out.ResyncInterval = cfg.Session.ResyncInterval
	out.OfferRetry = retry.Config{
		MaxAttempts:  cfg.Session.OfferRetry.MaxAttempts,
		InitialDelay: cfg.Session.OfferRetry.Interval,
		MaxDelay:     cfg.Session.OfferRetry.MaxDelay,
		Multiplier:   cfg.Session.OfferRetry.Multiplier,
	}
	return out
}

func newRelay(
	cfg *config.Config,
	self domain.SelfAddresses,
	auth services.RelayAuth,
	redisClient *redis.Client,
	log *zap.SugaredLogger,
) (ports.RelayTransport, *relay.RedisRelay, error) {
	switch cfg.Relay.Kind {
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("relay.kind=redis but Redis is unavailable")
		}
		r := relay.NewRedisRelay(redisClient, uuid.NewString(), self, auth, log)
		return r, r, nil
	default:
		return relay.NewHTTPRelay(relay.HTTPConfig{
			Port:            cfg.Relay.Port,
			Path:            cfg.Relay.Path,
			SendTimeout:     cfg.Relay.SendTimeout,
			SendAttempts:    cfg.Relay.SendAttempts,
			BreakerFailures: cfg.Relay.BreakerFailures,
			BreakerReset:    cfg.Relay.BreakerReset,
		}, self, auth, log), nil, nil
	}
}

// startIngests binds the configured RTP sockets and hands the resulting
// sources to the manager. It returns the ingests so they can be closed.
func startIngests(ctx context.Context, cfg *config.Config, manager *webrtcinfra.Manager, log *zap.SugaredLogger) ([]*media.RTPIngest, error) {
	var all []*media.RTPIngest
	closeAll := func() {
		for _, i := range all {
			_ = i.Close()
		}
	}
	open := func(addr, trackID string, kind webrtc.RTPCodecType, streamID string) (*media.RTPIngest, error) {
		i, err := media.NewRTPIngest(media.IngestConfig{ListenAddr: addr, TrackID: trackID, Kind: kind}, streamID, log)
		if err != nil {
			return nil, err
		}
		all = append(all, i)
		go func() {
			if err := i.Run(ctx); err != nil {
				log.Warnw("rtp ingest stopped", "listen_addr", addr, "error", err)
			}
		}()
		return i, nil
	}

	if addr := cfg.Media.VoiceRTP; addr != "" {
		voice, err := open(addr, "mic-audio", webrtc.RTPCodecTypeAudio, "mic")
		if err != nil {
			closeAll()
			return nil, err
		}
		if err := manager.ReplaceAudioSource(ctx, media.NewIngestSource("mic", domain.PurposeVoice, voice)); err != nil {
			log.Warnw("failed to apply voice ingest", "error", err)
		}
	}

	if addr := cfg.Media.ScreenVideoRTP; addr != "" {
		video, err := open(addr, "display-video", webrtc.RTPCodecTypeVideo, "display")
		if err != nil {
			closeAll()
			return nil, err
		}
		ingests := []*media.RTPIngest{video}
		if audioAddr := cfg.Media.ScreenAudioRTP; audioAddr != "" {
			audio, err := open(audioAddr, "display-audio", webrtc.RTPCodecTypeAudio, "display")
			if err != nil {
				closeAll()
				return nil, err
			}
			ingests = append(ingests, audio)
		}
		src := media.NewIngestSource("display", domain.PurposeScreen, ingests...)
		if err := manager.ReplaceVideoSource(ctx, src, len(ingests) > 1); err != nil {
			log.Warnw("failed to apply screen ingest", "error", err)
		}
	}
	return all, nil
}

// initialMirror is the presence the node starts with. A missing file is
// normal before the client first writes it; any other read failure is
// logged and the node starts with an empty presence.
func initialMirror(path string, preset bool, log *zap.SugaredLogger) domain.Mirror {
	var initial domain.Mirror
	if path != "" {
		m, err := mirror.Load(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Infow("mirror file absent", "path", path)
		case err != nil:
			log.Warnw("failed to load mirror file", "path", path, "error", err)
		default:
			initial = m
		}
	}
	initial.IsPresetChannels = initial.IsPresetChannels || preset
	return initial
}
