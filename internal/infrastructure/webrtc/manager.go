package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Manager owns one peer session per remote address and routes signaling
// messages to them.
type Manager struct {
	cfg    Config
	api    *webrtc.API
	deps   Dependencies
	clock  clock
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.PeerAddress]*PeerSession
	closed   bool

	mirrorMu sync.RWMutex
	mirror   domain.Mirror

	sourcesMu         sync.Mutex
	audioSource       *ports.MediaSource
	videoSource       *ports.MediaSource
	videoIncludeAudio bool
}

var _ ports.ConnectionManager = (*Manager)(nil)

func NewManager(cfg Config, deps Dependencies, mirror domain.Mirror) (*Manager, error) {
	api, err := newAPI(cfg, deps.Logger.Desugar())
	if err != nil {
		return nil, err
	}
	if err := deps.Membership.SetLocalPreset(context.Background(), mirror.IsPresetChannels); err != nil {
		return nil, err
	}
	return newManager(cfg, api, deps, mirror, realClock{}), nil
}

func newManager(cfg Config, api *webrtc.API, deps Dependencies, mirror domain.Mirror, c clock) *Manager {
	m := &Manager{
		cfg:      cfg,
		api:      api,
		clock:    c,
		logger:   deps.Logger,
		sessions: make(map[domain.PeerAddress]*PeerSession),
		mirror:   mirror.Clone(),
	}
	deps.Mirror = m.Mirror
	m.deps = deps
	return m
}

// Connect creates a session for addr and starts it. An empty role is decided
// by address order so both ends agree without talking.
func (m *Manager) Connect(ctx context.Context, addr domain.PeerAddress, role domain.Role) error {
	if m.deps.Self.Has(addr) {
		return fmt.Errorf("%w: %s is a local address", domain.ErrMalformedSignal, addr)
	}
	if role == "" {
		role = domain.RoleFor(m.deps.Self.Primary(), addr)
	}

	s, created, err := m.getOrCreate(addr, role)
	if err != nil {
		return err
	}
	if s.Role() != role {
		return fmt.Errorf("%w: session with %s is %s", domain.ErrRoleMismatch, addr, s.Role())
	}
	if !created {
		return nil
	}
	return s.Start(ctx)
}

// HandleSignal validates msg and dispatches it to the session of its sender.
func (m *Manager) HandleSignal(ctx context.Context, msg *domain.SignalMessage) error {
	ctx, span := tracing.TraceSignal(ctx, "receive", string(msg.Type), msg.Sender.Primary().String())
	defer span.End()

	if err := msg.Validate(); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	m.deps.Metrics.SignalReceived(msg.Type)

	var err error
	switch msg.Type {
	case domain.SignalAskOffer:
		err = m.handleAskOffer(ctx, msg)
	case domain.SignalOfferWithCandidates:
		err = m.handleOffer(ctx, msg)
	case domain.SignalAnswerWithCandidates:
		err = m.handleAnswer(ctx, msg)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (m *Manager) handleAskOffer(ctx context.Context, msg *domain.SignalMessage) error {
	s, ok := m.lookup(msg.Sender)
	if !ok {
		var err error
		if s, _, err = m.getOrCreate(msg.Sender.Primary(), domain.RoleOfferer); err != nil {
			return err
		}
	}
	if s.Role() != domain.RoleOfferer {
		m.logger.Warnw("ask-offer for a session we answer", "peer_address", s.Address())
		return domain.ErrRoleMismatch
	}
	m.logger.Infow("routing ask-offer", "peer_address", s.Address())
	return s.Renegotiate(ctx)
}

func (m *Manager) handleOffer(ctx context.Context, msg *domain.SignalMessage) error {
	s, ok := m.lookup(msg.Sender)
	if !ok {
		var err error
		if s, _, err = m.getOrCreate(msg.Sender.Primary(), domain.RoleAnswerer); err != nil {
			return err
		}
	}
	m.logger.Infow("routing offer", "peer_address", s.Address(), "candidates", len(msg.Candidates))
	return s.HandleOffer(ctx, msg)
}

func (m *Manager) handleAnswer(ctx context.Context, msg *domain.SignalMessage) error {
	s, ok := m.lookup(msg.Sender)
	if !ok {
		m.logger.Infow("dropping answer without session", "sender", msg.Sender)
		return nil
	}
	m.logger.Infow("routing answer", "peer_address", s.Address(), "candidates", len(msg.Candidates))
	return s.HandleAnswer(ctx, msg)
}

// lookup finds the session a sender belongs to under any of its addresses.
func (m *Manager) lookup(sender domain.SelfAddresses) (*PeerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, addr := range []string{sender.IPv4, sender.IPv6} {
		if addr == "" {
			continue
		}
		if s, ok := m.sessions[domain.PeerAddress(addr)]; ok {
			return s, true
		}
	}
	return nil, false
}

func (m *Manager) getOrCreate(addr domain.PeerAddress, role domain.Role) (*PeerSession, bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, domain.ErrSessionClosed
	}
	if s, ok := m.sessions[addr]; ok {
		m.mu.Unlock()
		return s, false, nil
	}
	s, err := newPeerSession(addr, role, m.cfg, m.api, m.deps, m.clock)
	if err != nil {
		m.mu.Unlock()
		return nil, false, err
	}
	m.sessions[addr] = s
	m.mu.Unlock()

	m.logger.Infow("peer session created", "peer_address", addr, "role", role)

	audio, video, includeAudio := m.sources()
	if audio != nil {
		if err := s.ReplaceAudioSource(context.Background(), audio); err != nil {
			m.logger.Warnw("failed to hand audio source to session", "peer_address", addr, "error", err)
		}
	}
	if video != nil {
		if err := s.ReplaceVideoSource(context.Background(), video, includeAudio); err != nil {
			m.logger.Warnw("failed to hand video source to session", "peer_address", addr, "error", err)
		}
	}
	return s, true, nil
}

// Session returns the session for addr.
func (m *Manager) Session(addr domain.PeerAddress) (*PeerSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[addr]
	return s, ok
}

// Renegotiate starts a new attempt on an existing session.
func (m *Manager) Renegotiate(ctx context.Context, addr domain.PeerAddress) error {
	s, ok := m.Session(addr)
	if !ok {
		return domain.ErrSessionNotFound
	}
	return s.Renegotiate(ctx)
}

// peerForgetter is implemented by relays that keep per-peer state.
type peerForgetter interface {
	Forget(addr domain.PeerAddress)
}

// Remove closes the session and forgets everything learned from the peer.
func (m *Manager) Remove(ctx context.Context, addr domain.PeerAddress) error {
	m.mu.Lock()
	s, ok := m.sessions[addr]
	delete(m.sessions, addr)
	m.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	var errs []error
	if err := s.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.deps.Statuses.Delete(ctx, addr); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		errs = append(errs, err)
	}
	if err := m.deps.Streams.Clear(ctx, addr); err != nil {
		errs = append(errs, err)
	}
	if err := m.deps.Membership.ForgetPeer(ctx, addr); err != nil {
		errs = append(errs, err)
	}
	if f, ok := m.deps.Relay.(peerForgetter); ok {
		f.Forget(addr)
	}
	m.logger.Infow("peer session removed", "peer_address", addr)
	return errors.Join(errs...)
}

// Sessions returns the addresses of all sessions in order.
func (m *Manager) Sessions() []domain.PeerAddress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PeerAddress, 0, len(m.sessions))
	for addr := range m.sessions {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) snapshot() []*PeerSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PeerSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Mirror returns a copy of the local presence.
func (m *Manager) Mirror() domain.Mirror {
	m.mirrorMu.RLock()
	defer m.mirrorMu.RUnlock()
	return m.mirror.Clone()
}

// SetMirror replaces the local presence and pushes it to every peer with an
// open data channel. The channel mode used by merges follows the mirror.
func (m *Manager) SetMirror(ctx context.Context, mirror domain.Mirror) {
	m.mirrorMu.Lock()
	m.mirror = mirror.Clone()
	m.mirrorMu.Unlock()

	if err := m.deps.Membership.SetLocalPreset(ctx, mirror.IsPresetChannels); err != nil {
		m.logger.Warnw("failed to apply channel mode", "preset_channels", mirror.IsPresetChannels, "error", err)
	}

	for _, s := range m.snapshot() {
		if err := s.PushStatus(ctx); err != nil {
			m.logger.Warnw("failed to push status", "peer_address", s.Address(), "error", err)
		}
	}
}

func (m *Manager) sources() (*ports.MediaSource, *ports.MediaSource, bool) {
	m.sourcesMu.Lock()
	defer m.sourcesMu.Unlock()
	return m.audioSource, m.videoSource, m.videoIncludeAudio
}

// ReplaceAudioSource swaps the voice placeholder on every session and on
// sessions created later.
func (m *Manager) ReplaceAudioSource(ctx context.Context, src *ports.MediaSource) error {
	if src == nil || len(src.AudioTracks()) == 0 {
		return fmt.Errorf("audio source has no audio track")
	}
	m.sourcesMu.Lock()
	m.audioSource = src
	m.sourcesMu.Unlock()

	var errs []error
	for _, s := range m.snapshot() {
		if err := s.ReplaceAudioSource(ctx, src); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Address(), err))
		}
	}
	return errors.Join(errs...)
}

// ReplaceVideoSource swaps the screen placeholder on every session and on
// sessions created later.
func (m *Manager) ReplaceVideoSource(ctx context.Context, src *ports.MediaSource, includeAudio bool) error {
	if src == nil || len(src.VideoTracks()) == 0 {
		return fmt.Errorf("video source has no video track")
	}
	m.sourcesMu.Lock()
	m.videoSource = src
	m.videoIncludeAudio = includeAudio
	m.sourcesMu.Unlock()

	var errs []error
	for _, s := range m.snapshot() {
		if err := s.ReplaceVideoSource(ctx, src, includeAudio); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Address(), err))
		}
	}
	return errors.Join(errs...)
}

// Close tears down every session. The manager refuses new sessions after.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[domain.PeerAddress]*PeerSession)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
