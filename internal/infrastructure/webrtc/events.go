package webrtc

import "github.com/pion/webrtc/v3"

// eventKind enumerates everything a peer session's loop reacts to. pion
// callbacks, timers and caller commands are all funneled through one channel
// so session state is only ever touched by the loop goroutine.
type eventKind int

const (
	evCommand eventKind = iota
	evICECandidate
	evGatheringState
	evICEState
	evDataChannel
	evDataOpen
	evDataMessage
	evTrack
	evHeartbeatTick
	evHeartbeatDeadline
	evAskOffer
	evResync
)

var eventKindNames = map[eventKind]string{
	evCommand:           "command",
	evICECandidate:      "ice_candidate",
	evGatheringState:    "gathering_state",
	evICEState:          "ice_state",
	evDataChannel:       "data_channel",
	evDataOpen:          "data_open",
	evDataMessage:       "data_message",
	evTrack:             "track",
	evHeartbeatTick:     "heartbeat_tick",
	evHeartbeatDeadline: "heartbeat_deadline",
	evAskOffer:          "ask_offer",
	evResync:            "resync",
}

func (k eventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// event carries the payload of one kind. gen is the transport generation the
// event was produced for; events from a torn down transport are dropped.
type event struct {
	kind eventKind
	gen  uint64

	candidate *webrtc.ICECandidate
	gathering webrtc.ICEGathererState
	iceState  webrtc.ICEConnectionState
	channel   *webrtc.DataChannel
	data      []byte
	track     *webrtc.TrackRemote
	receiver  *webrtc.RTPReceiver
	seq       uint64

	cmd  func() error
	done chan error
}
