package domain

import "errors"

var (
	ErrPlaceholderMissing = errors.New("placeholder media sources not initialized")
	ErrMalformedSignal    = errors.New("malformed signaling message")
	ErrUnknownSignal      = errors.New("unknown signaling message type")
	ErrNoTransport        = errors.New("no transport session")
	ErrRoleMismatch       = errors.New("message does not match session role")
	ErrSessionClosed      = errors.New("peer session closed")
	ErrSessionNotFound    = errors.New("peer session not found")
	ErrChannelNotFound    = errors.New("voice channel not found")
	ErrInvalidChannel     = errors.New("invalid voice channel")
)
