package media

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	VoiceStreamID  = "voice"
	ScreenStreamID = "screen"

	VoiceAudioTrackID  = "voice-audio"
	ScreenVideoTrackID = "screen-video"
	ScreenAudioTrackID = "screen-audio"

	opusFrame     = 20 * time.Millisecond
	opusClockRate = 48000
	opusPayload   = 111
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
	vp8Capability  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// PlaceholderProvider owns the silent audio and blank video tracks every
// session is created with. The same tracks are bound to every peer
// connection, so one silence pump feeds all of them.
type PlaceholderProvider struct {
	logger *zap.SugaredLogger

	voiceAudio  *webrtc.TrackLocalStaticRTP
	screenVideo *webrtc.TrackLocalStaticRTP
	screenAudio *webrtc.TrackLocalStaticRTP

	audio *ports.MediaSource
	video *ports.MediaSource

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

var _ ports.MediaSourceProvider = (*PlaceholderProvider)(nil)

func NewPlaceholderProvider(logger *zap.SugaredLogger) (*PlaceholderProvider, error) {
	voiceAudio, err := webrtc.NewTrackLocalStaticRTP(opusCapability, VoiceAudioTrackID, VoiceStreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", VoiceAudioTrackID, err)
	}
	screenVideo, err := webrtc.NewTrackLocalStaticRTP(vp8Capability, ScreenVideoTrackID, ScreenStreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", ScreenVideoTrackID, err)
	}
	screenAudio, err := webrtc.NewTrackLocalStaticRTP(opusCapability, ScreenAudioTrackID, ScreenStreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track: %w", ScreenAudioTrackID, err)
	}

	return &PlaceholderProvider{
		logger:      logger,
		voiceAudio:  voiceAudio,
		screenVideo: screenVideo,
		screenAudio: screenAudio,
		audio: &ports.MediaSource{
			StreamID: VoiceStreamID,
			Purpose:  domain.PurposeVoice,
			Tracks:   []webrtc.TrackLocal{voiceAudio},
		},
		video: &ports.MediaSource{
			StreamID: ScreenStreamID,
			Purpose:  domain.PurposeScreen,
			Tracks:   []webrtc.TrackLocal{screenVideo, screenAudio},
		},
	}, nil
}

func (p *PlaceholderProvider) PlaceholderAudio() *ports.MediaSource { return p.audio }
func (p *PlaceholderProvider) PlaceholderVideo() *ports.MediaSource { return p.video }

func (p *PlaceholderProvider) PlaceholderTrackIDs() ports.PlaceholderTrackIDs {
	return ports.PlaceholderTrackIDs{
		VoiceAudio:  VoiceAudioTrackID,
		ScreenVideo: ScreenVideoTrackID,
		ScreenAudio: ScreenAudioTrackID,
	}
}

// Start pumps Opus silence into both placeholder audio tracks until Stop or
// ctx ends. The video placeholder stays blank.
func (p *PlaceholderProvider) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.stopped = make(chan struct{})
	go p.pumpSilence(ctx, p.stopped)
}

func (p *PlaceholderProvider) Stop() {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (p *PlaceholderProvider) pumpSilence(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	samplesPerFrame := uint32(opusClockRate * opusFrame / time.Second)
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayload,
			SequenceNumber: uint16(rand.Uint32()),
			Timestamp:      rand.Uint32(),
			SSRC:           rand.Uint32(),
		},
		Payload: opusSilence,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, track := range []*webrtc.TrackLocalStaticRTP{p.voiceAudio, p.screenAudio} {
				if err := track.WriteRTP(packet); err != nil {
					p.logger.Debugw("failed to write silence", "track_id", track.ID(), "error", err)
				}
			}
			packet.SequenceNumber++
			packet.Timestamp += samplesPerFrame
		}
	}
}
