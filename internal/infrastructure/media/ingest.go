package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const maxRTPPacket = 1500

// RTPIngest forwards RTP arriving on a local UDP port into a track, so that
// an external capture pipeline (ffmpeg, gstreamer) can stand in for the
// placeholders.
type RTPIngest struct {
	conn   net.PacketConn
	track  *webrtc.TrackLocalStaticRTP
	logger *zap.SugaredLogger
}

// IngestConfig names one forwarded track.
type IngestConfig struct {
	ListenAddr string
	TrackID    string
	Kind       webrtc.RTPCodecType
}

// NewRTPIngest binds the UDP socket and creates the track it feeds.
func NewRTPIngest(cfg IngestConfig, streamID string, logger *zap.SugaredLogger) (*RTPIngest, error) {
	capability := opusCapability
	if cfg.Kind == webrtc.RTPCodecTypeVideo {
		capability = vp8Capability
	}

	track, err := webrtc.NewTrackLocalStaticRTP(capability, cfg.TrackID, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create track %s: %w", cfg.TrackID, err)
	}
	conn, err := net.ListenPacket("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for RTP on %s: %w", cfg.ListenAddr, err)
	}

	return &RTPIngest{
		conn:   conn,
		track:  track,
		logger: logger.With("track_id", cfg.TrackID, "listen_addr", conn.LocalAddr().String()),
	}, nil
}

func (i *RTPIngest) Track() *webrtc.TrackLocalStaticRTP { return i.track }

func (i *RTPIngest) Addr() net.Addr { return i.conn.LocalAddr() }

// Run copies packets until ctx ends or the socket is closed.
func (i *RTPIngest) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		i.conn.Close()
	}()

	buf := make([]byte, maxRTPPacket)
	packet := &rtp.Packet{}
	for {
		n, _, err := i.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to read RTP: %w", err)
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			i.logger.Debugw("dropping malformed RTP packet", "size", n, "error", err)
			continue
		}
		if err := i.track.WriteRTP(packet); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			i.logger.Debugw("failed to forward RTP packet", "error", err)
		}
	}
}

func (i *RTPIngest) Close() error {
	return i.conn.Close()
}

// NewIngestSource groups ingests into one media source.
func NewIngestSource(streamID string, purpose domain.StreamPurpose, ingests ...*RTPIngest) *ports.MediaSource {
	src := &ports.MediaSource{StreamID: streamID, Purpose: purpose}
	for _, i := range ingests {
		src.Tracks = append(src.Tracks, i.track)
	}
	return src
}
