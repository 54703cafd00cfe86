package domain

import "time"

// ConnectionState is what the rendering layer sees for a peer. The first three
// values describe how a transport session comes to exist; the rest are ICE
// connection states passed through verbatim.
type ConnectionState string

const (
	StateInitializing   ConnectionState = "initializing"
	StateGatheringPaths ConnectionState = "gathering-paths"
	StateNegotiating    ConnectionState = "negotiating"

	StateNew          ConnectionState = "new"
	StateChecking     ConnectionState = "checking"
	StateConnected    ConnectionState = "connected"
	StateCompleted    ConnectionState = "completed"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// LatencyTimeout is published when a heartbeat probe goes unanswered.
const LatencyTimeout int64 = -1

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ConnectionStatus is the published read model, one per peer address.
type ConnectionStatus struct {
	Address           PeerAddress         `json:"address"`
	Role              Role                `json:"role"`
	State             ConnectionState     `json:"state"`
	Latency           int64               `json:"latency"` // ms, LatencyTimeout on a missed probe
	UserConfig        *User               `json:"userConfig"`
	DataChannelOpen   bool                `json:"dataChannelOpen"`
	AttemptID         string              `json:"attemptId,omitempty"`
	LocalDescription  *SessionDescription `json:"localDescription,omitempty"`
	RemoteDescription *SessionDescription `json:"remoteDescription,omitempty"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// NewConnectionStatus returns the status a session starts with.
func NewConnectionStatus(addr PeerAddress, role Role) ConnectionStatus {
	return ConnectionStatus{
		Address:   addr,
		Role:      role,
		State:     StateInitializing,
		UpdatedAt: time.Now(),
	}
}

// Connected reports whether ICE considers the session usable.
func (s ConnectionStatus) Connected() bool {
	return s.State == StateConnected || s.State == StateCompleted
}
