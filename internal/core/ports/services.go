package ports

import (
	"context"

	"meshvoice/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// RelayTransport delivers signaling messages to a peer address.
type RelayTransport interface {
	Send(ctx context.Context, to domain.PeerAddress, msg *domain.SignalMessage) error
}

// MediaSource is a set of local tracks sharing one stream id.
type MediaSource struct {
	StreamID string
	Purpose  domain.StreamPurpose
	Tracks   []webrtc.TrackLocal
}

// AudioTracks returns the audio tracks of the source.
func (s *MediaSource) AudioTracks() []webrtc.TrackLocal {
	return s.tracksOfKind(webrtc.RTPCodecTypeAudio)
}

// VideoTracks returns the video tracks of the source.
func (s *MediaSource) VideoTracks() []webrtc.TrackLocal {
	return s.tracksOfKind(webrtc.RTPCodecTypeVideo)
}

func (s *MediaSource) tracksOfKind(kind webrtc.RTPCodecType) []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// PlaceholderTrackIDs are the stable identities senders are matched by when
// a placeholder is swapped for a real source.
type PlaceholderTrackIDs struct {
	VoiceAudio  string
	ScreenVideo string
	ScreenAudio string
}

// MediaSourceProvider supplies the always-available placeholder sources.
type MediaSourceProvider interface {
	PlaceholderAudio() *MediaSource
	PlaceholderVideo() *MediaSource
	PlaceholderTrackIDs() PlaceholderTrackIDs
}

// MembershipSync merges presence received from peers into the channel store.
type MembershipSync interface {
	ApplyRemoteStatus(ctx context.Context, from domain.PeerAddress, mirror domain.Mirror) (domain.MergeResult, error)
	ForgetPeer(ctx context.Context, addr domain.PeerAddress) error
	// SetLocalPreset records the channel mode this node broadcasts; merges
	// compare remote modes against it.
	SetLocalPreset(ctx context.Context, preset bool) error
}

// MetricsCollector receives session level observations.
type MetricsCollector interface {
	SessionOpened(role domain.Role)
	SessionClosed(role domain.Role)
	ConnectionState(state domain.ConnectionState)
	HeartbeatLatency(ms int64)
	HeartbeatTimeout()
	SignalSent(signalType domain.SignalType, err error)
	SignalReceived(signalType domain.SignalType)
	NegotiationDuration(role domain.Role, seconds float64)
	RTCPPacket(direction, packetType string)
	MembershipMerge(outcome domain.MergeOutcome)
}

// ConnectionManager is what the HTTP surface drives.
type ConnectionManager interface {
	Connect(ctx context.Context, addr domain.PeerAddress, role domain.Role) error
	HandleSignal(ctx context.Context, msg *domain.SignalMessage) error
	Renegotiate(ctx context.Context, addr domain.PeerAddress) error
	Remove(ctx context.Context, addr domain.PeerAddress) error
	Sessions() []domain.PeerAddress

	Mirror() domain.Mirror
	SetMirror(ctx context.Context, mirror domain.Mirror)

	ReplaceAudioSource(ctx context.Context, src *MediaSource) error
	ReplaceVideoSource(ctx context.Context, src *MediaSource, includeAudio bool) error
}
