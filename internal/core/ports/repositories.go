package ports

import (
	"context"
	"time"

	"meshvoice/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// ChannelRepository is the local view of voice channels and who is in them.
// Membership is keyed by channel id and does not require the channel itself
// to be stored (preset channels may be known only by id).
type ChannelRepository interface {
	IsPresetChannels(ctx context.Context) (bool, error)
	SetPresetChannels(ctx context.Context, preset bool) error

	GetChannel(ctx context.Context, id int64) (*domain.VoiceChannel, error)
	AddChannel(ctx context.Context, channel domain.VoiceChannel) error
	RemoveChannel(ctx context.Context, id int64) error
	ListChannels(ctx context.Context) ([]domain.VoiceChannel, error)

	// AddUser appends the user unless already present in that channel.
	AddUser(ctx context.Context, channelID int64, user domain.User) error
	// RemoveUser is a no-op when the user is absent.
	RemoveUser(ctx context.Context, channelID int64, userID string) error
	Users(ctx context.Context, channelID int64) ([]domain.User, error)
	Memberships(ctx context.Context) (map[int64][]domain.User, error)
}

// StatusEvent is delivered to status subscribers.
type StatusEvent struct {
	Status  domain.ConnectionStatus `json:"status"`
	Removed bool                    `json:"removed,omitempty"`
}

type StatusRepository interface {
	// Init creates or resets the status for a new session.
	Init(ctx context.Context, status domain.ConnectionStatus) error
	// Update applies fn to the stored status; domain.ErrSessionNotFound if absent.
	Update(ctx context.Context, addr domain.PeerAddress, fn func(*domain.ConnectionStatus)) (domain.ConnectionStatus, error)
	Get(ctx context.Context, addr domain.PeerAddress) (domain.ConnectionStatus, error)
	List(ctx context.Context) ([]domain.ConnectionStatus, error)
	Delete(ctx context.Context, addr domain.PeerAddress) error
	// Subscribe returns a channel of changes and a cancel func. Slow
	// subscribers miss events rather than block publishers.
	Subscribe(buffer int) (<-chan StatusEvent, func())
}

// RemoteStream is an incoming media stream from a peer.
type RemoteStream struct {
	PeerAddress domain.PeerAddress
	StreamID    string
	Purpose     domain.StreamPurpose
	Tracks      []*webrtc.TrackRemote
	ReceivedAt  time.Time
}

type StreamRepository interface {
	// Publish stores the stream, replacing any stream of the same purpose
	// from the same peer.
	Publish(ctx context.Context, stream RemoteStream) error
	Get(ctx context.Context, addr domain.PeerAddress, purpose domain.StreamPurpose) (RemoteStream, bool)
	List(ctx context.Context) []RemoteStream
	Clear(ctx context.Context, addr domain.PeerAddress) error
}
