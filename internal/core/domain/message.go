package domain

import (
	"fmt"

	"meshvoice/pkg/validation"
)

// SignalType identifies a message exchanged over the relay transport.
type SignalType string

const (
	SignalAskOffer             SignalType = "ask-offer"
	SignalOfferWithCandidates  SignalType = "offer-with-candidates"
	SignalAnswerWithCandidates SignalType = "answer-with-candidates"
)

// StreamPurpose tags a media stream so the receiver need not guess from its
// track count.
type StreamPurpose string

const (
	PurposeVoice  StreamPurpose = "voice"
	PurposeScreen StreamPurpose = "screen"
)

func (p StreamPurpose) Valid() bool {
	return p == PurposeVoice || p == PurposeScreen
}

// ICECandidate has the same JSON shape as a browser RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalMessage is the envelope carried by the relay transport.
type SignalMessage struct {
	Type       SignalType               `json:"type"`
	Sender     SelfAddresses            `json:"sender"`
	Offer      *SessionDescription      `json:"offer,omitempty"`
	Answer     *SessionDescription      `json:"answer,omitempty"`
	Candidates []ICECandidate           `json:"candidates"`
	Streams    map[string]StreamPurpose `json:"streams,omitempty"`
}

// Validate checks the envelope and the payload required by its type.
// A nil candidate list is malformed; an empty one is not.
func (m *SignalMessage) Validate() error {
	if m.Sender.IsZero() {
		return fmt.Errorf("%w: sender has no address", ErrMalformedSignal)
	}

	switch m.Type {
	case SignalAskOffer:
		return nil
	case SignalOfferWithCandidates:
		return validateDescription(m.Offer, "offer", m.Candidates, m.Streams)
	case SignalAnswerWithCandidates:
		return validateDescription(m.Answer, "answer", m.Candidates, m.Streams)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, m.Type)
	}
}

func validateDescription(desc *SessionDescription, want string, candidates []ICECandidate, streams map[string]StreamPurpose) error {
	if desc == nil {
		return fmt.Errorf("%w: %s not found", ErrMalformedSignal, want)
	}
	if candidates == nil {
		return fmt.Errorf("%w: candidates not found", ErrMalformedSignal)
	}
	if desc.Type != want {
		return fmt.Errorf("%w: description type %q, expected %q", ErrMalformedSignal, desc.Type, want)
	}
	if err := validation.ValidateSDP(desc.SDP); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	for id, purpose := range streams {
		if !purpose.Valid() {
			return fmt.Errorf("%w: stream %q has unknown purpose %q", ErrMalformedSignal, id, purpose)
		}
	}
	return nil
}

// DataMessageType identifies a message on the data channel.
type DataMessageType string

const (
	DataPing       DataMessageType = "ping"
	DataPong       DataMessageType = "pong"
	DataSyncStatus DataMessageType = "sync_status"
)

// DataMessage is the data channel envelope. Seq is optional so that peers
// which do not number their pings still interoperate.
type DataMessage struct {
	Type   DataMessageType `json:"type"`
	Seq    *uint64         `json:"seq,omitempty"`
	Status *Mirror         `json:"status,omitempty"`
}
