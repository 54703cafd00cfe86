package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/pkg/tracing"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const eventBuffer = 256

// Dependencies are the collaborators injected into every peer session.
type Dependencies struct {
	Self       domain.SelfAddresses
	Relay      ports.RelayTransport
	Media      ports.MediaSourceProvider
	Membership ports.MembershipSync
	Statuses   ports.StatusRepository
	Streams    ports.StreamRepository
	Metrics    ports.MetricsCollector
	Mirror     func() domain.Mirror
	Logger     *zap.SugaredLogger
}

// PeerSession owns the WebRTC relationship with one remote peer. Its role is
// fixed at creation. Every field below the loop marker is owned by the loop
// goroutine; callers go through commands.
type PeerSession struct {
	addr   domain.PeerAddress
	role   domain.Role
	cfg    Config
	api    *webrtc.API
	deps   Dependencies
	clock  clock
	logger *zap.SugaredLogger

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// loop
	gen            uint64
	attemptID      string
	attemptStarted time.Time
	negotiated     bool
	pc             *webrtc.PeerConnection
	dc             *webrtc.DataChannel
	dcOpen         bool
	candidates     []domain.ICECandidate
	flushed        bool
	heartbeat      *heartbeat
	askTimer       stopper
	askAttempts    int
	resyncTimer    stopper
	remotePurposes map[string]domain.StreamPurpose
	remoteSDP      *sdp.SessionDescription
	incoming       map[string][]*webrtc.TrackRemote
	live           int

	audioSource       *ports.MediaSource
	videoSource       *ports.MediaSource
	videoIncludeAudio bool
	audioReplaced     bool
	videoReplaced     bool

	stopping bool
}

func newPeerSession(
	addr domain.PeerAddress,
	role domain.Role,
	cfg Config,
	api *webrtc.API,
	deps Dependencies,
	c clock,
) (*PeerSession, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if err := deps.Statuses.Init(context.Background(), domain.NewConnectionStatus(addr, role)); err != nil {
		return nil, fmt.Errorf("failed to init status for %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PeerSession{
		addr:     addr,
		role:     role,
		cfg:      cfg,
		api:      api,
		deps:     deps,
		clock:    c,
		logger:   deps.Logger.With("peer_address", addr, "role", role),
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan event, eventBuffer),
		done:     make(chan struct{}),
		incoming: make(map[string][]*webrtc.TrackRemote),
	}
	deps.Metrics.SessionOpened(role)

	go s.run()
	return s, nil
}

func (s *PeerSession) Address() domain.PeerAddress { return s.addr }
func (s *PeerSession) Role() domain.Role           { return s.role }

// Done is closed once the session loop has exited.
func (s *PeerSession) Done() <-chan struct{} { return s.done }

func (s *PeerSession) run() {
	defer close(s.done)
	for {
		ev := <-s.events
		s.handle(ev)
		if s.stopping {
			return
		}
	}
}

func (s *PeerSession) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// do runs fn on the loop and waits for its result.
func (s *PeerSession) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.events <- event{kind: evCommand, cmd: fn, done: done}:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-s.done:
		select {
		case err := <-done:
			return err
		default:
			return domain.ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PeerSession) handle(ev event) {
	if ev.kind == evCommand {
		ev.done <- ev.cmd()
		return
	}
	if ev.gen != s.gen {
		s.logger.Debugw("dropping stale event", "event", ev.kind, "event_gen", ev.gen, "gen", s.gen)
		return
	}

	switch ev.kind {
	case evICECandidate:
		s.onICECandidate(ev.candidate)
	case evGatheringState:
		if ev.gathering == webrtc.ICEGathererStateComplete {
			s.flushCandidates()
		}
	case evICEState:
		s.onICEState(ev.iceState)
	case evDataChannel:
		s.onRemoteDataChannel(ev.channel)
	case evDataOpen:
		s.onDataOpen(ev.channel)
	case evDataMessage:
		s.onDataMessage(ev.data)
	case evTrack:
		s.onTrack(ev.track, ev.receiver)
	case evHeartbeatTick:
		if s.heartbeat != nil {
			if err := s.heartbeat.onTick(); err != nil {
				s.logger.Debugw("error sending ping", "error", err)
			}
		}
	case evHeartbeatDeadline:
		if s.heartbeat != nil {
			s.heartbeat.onDeadline(ev.seq)
		}
	case evAskOffer:
		s.onAskOffer()
	case evResync:
		s.onResync()
	}
}

// Start begins negotiation for an offerer, or the ask-offer loop for an
// answerer.
func (s *PeerSession) Start(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.role == domain.RoleOfferer {
			return s.startOffer()
		}
		s.armAskOffer(s.cfg.OfferRetry.Backoff(0))
		return nil
	})
}

// Renegotiate starts a fresh attempt. An answerer asks its peer for an offer
// right away.
func (s *PeerSession) Renegotiate(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.askAttempts = 0
		if s.role == domain.RoleOfferer {
			return s.startOffer()
		}
		s.onAskOffer()
		return nil
	})
}

// HandleOffer answers an offer-with-candidates message.
func (s *PeerSession) HandleOffer(ctx context.Context, msg *domain.SignalMessage) error {
	if s.role != domain.RoleAnswerer {
		return domain.ErrRoleMismatch
	}
	return s.do(ctx, func() error { return s.answer(msg) })
}

// HandleAnswer applies an answer-with-candidates message. Without a transport
// session the answer is dropped.
func (s *PeerSession) HandleAnswer(ctx context.Context, msg *domain.SignalMessage) error {
	if s.role != domain.RoleOfferer {
		return domain.ErrRoleMismatch
	}
	return s.do(ctx, func() error { return s.applyAnswer(msg) })
}

// PushStatus sends the current mirror to the peer if the data channel is open.
func (s *PeerSession) PushStatus(ctx context.Context) error {
	return s.do(ctx, func() error {
		if !s.dcOpen {
			return nil
		}
		return s.sendSyncStatus()
	})
}

// ReplaceAudioSource swaps the voice placeholder for src. Only the first
// replacement per transport session takes effect; src is remembered and
// re-applied when the session renegotiates.
func (s *PeerSession) ReplaceAudioSource(ctx context.Context, src *ports.MediaSource) error {
	return s.do(ctx, func() error {
		if s.audioReplaced {
			return nil
		}
		s.audioSource = src
		return s.applyAudio()
	})
}

// ReplaceVideoSource swaps the screen placeholder for src, and its audio
// placeholder too when includeAudio is set.
func (s *PeerSession) ReplaceVideoSource(ctx context.Context, src *ports.MediaSource, includeAudio bool) error {
	return s.do(ctx, func() error {
		if s.videoReplaced {
			return nil
		}
		s.videoSource = src
		s.videoIncludeAudio = includeAudio
		return s.applyVideo()
	})
}

// Close tears the session down and waits for its goroutines to exit.
func (s *PeerSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.do(context.Background(), func() error {
			s.teardown()
			s.stopping = true
			return nil
		})
		<-s.done
		s.cancel()
		s.wg.Wait()
		s.deps.Metrics.SessionClosed(s.role)
		s.logger.Infow("peer session closed")
	})
	return err
}

func (s *PeerSession) checkPlaceholders() error {
	if s.deps.Media == nil || s.deps.Media.PlaceholderAudio() == nil || s.deps.Media.PlaceholderVideo() == nil {
		return domain.ErrPlaceholderMissing
	}
	return nil
}

// newTransport creates the transport session and registers every handler
// before anything else touches it. The prior transport must be torn down.
func (s *PeerSession) newTransport() error {
	if s.pc != nil {
		return fmt.Errorf("transport for %s still open", s.addr)
	}

	pc, err := s.api.NewPeerConnection(s.cfg.peerConnectionConfig())
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	s.pc = pc
	s.live++

	gen := s.gen
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		s.post(event{kind: evICECandidate, gen: gen, candidate: c})
	})
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		s.post(event{kind: evGatheringState, gen: gen, gathering: state})
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.post(event{kind: evICEState, gen: gen, iceState: state})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == s.cfg.DataChannelLabel {
			s.bindDataChannel(dc, gen)
		}
		s.post(event{kind: evDataChannel, gen: gen, channel: dc})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.post(event{kind: evTrack, gen: gen, track: track, receiver: receiver})
	})

	s.attemptID = uuid.New().String()
	s.attemptStarted = s.clock.Now()
	s.negotiated = false
	s.updateStatus(func(st *domain.ConnectionStatus) {
		st.State = domain.StateInitializing
		st.AttemptID = s.attemptID
		st.Latency = 0
		st.DataChannelOpen = false
		st.LocalDescription = nil
		st.RemoteDescription = nil
	})
	s.logger.Infow("created transport session", "attempt_id", s.attemptID)
	return nil
}

func (s *PeerSession) attachPlaceholders() error {
	for _, src := range []*ports.MediaSource{s.deps.Media.PlaceholderAudio(), s.deps.Media.PlaceholderVideo()} {
		for _, track := range src.Tracks {
			sender, err := s.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("failed to add placeholder track %s: %w", track.ID(), err)
			}
			s.wg.Add(1)
			go s.readSenderRTCP(sender)
		}
	}

	if err := s.applyAudio(); err != nil {
		s.logger.Warnw("failed to re-apply audio source", "error", err)
	}
	if err := s.applyVideo(); err != nil {
		s.logger.Warnw("failed to re-apply video source", "error", err)
	}
	return nil
}

func (s *PeerSession) startOffer() error {
	s.teardown()
	if err := s.checkPlaceholders(); err != nil {
		return err
	}

	ctx, span := tracing.TraceNegotiation(s.ctx, "offer", s.addr.String(), string(s.role))
	defer span.End()

	err := s.offer()
	if err != nil {
		tracing.RecordError(ctx, err)
		s.teardown()
	}
	return err
}

func (s *PeerSession) offer() error {
	if err := s.newTransport(); err != nil {
		return err
	}
	if err := s.attachPlaceholders(); err != nil {
		return err
	}

	ordered := false
	dc, err := s.pc.CreateDataChannel(s.cfg.DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	s.bindDataChannel(dc, s.gen)
	s.dc = dc

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	s.updateStatus(func(st *domain.ConnectionStatus) { st.State = domain.StateGatheringPaths })
	return nil
}

func (s *PeerSession) answer(msg *domain.SignalMessage) error {
	if msg.Offer == nil || msg.Candidates == nil {
		return fmt.Errorf("%w: offer or candidates missing", domain.ErrMalformedSignal)
	}
	s.teardown()
	if err := s.checkPlaceholders(); err != nil {
		return err
	}

	ctx, span := tracing.TraceNegotiation(s.ctx, "answer", s.addr.String(), string(s.role))
	defer span.End()

	if err := s.acceptOffer(msg); err != nil {
		tracing.RecordError(ctx, err)
		s.teardown()
		s.armAskOffer(s.cfg.OfferRetry.Backoff(0))
		return err
	}
	s.askAttempts = 0
	s.armAskOffer(s.cfg.OfferRetry.Backoff(0))
	return nil
}

func (s *PeerSession) acceptOffer(msg *domain.SignalMessage) error {
	if err := s.newTransport(); err != nil {
		return err
	}
	if err := s.attachPlaceholders(); err != nil {
		return err
	}

	if err := s.setRemote(webrtc.SDPTypeOffer, msg); err != nil {
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	s.addRemoteCandidates(msg.Candidates)
	s.updateStatus(func(st *domain.ConnectionStatus) { st.State = domain.StateGatheringPaths })
	return nil
}

func (s *PeerSession) applyAnswer(msg *domain.SignalMessage) error {
	if s.pc == nil {
		s.logger.Infow("no transport session for answer", "error", domain.ErrNoTransport)
		return nil
	}
	if msg.Answer == nil || msg.Candidates == nil {
		return fmt.Errorf("%w: answer or candidates missing", domain.ErrMalformedSignal)
	}

	ctx, span := tracing.TraceNegotiation(s.ctx, "apply_answer", s.addr.String(), string(s.role))
	defer span.End()

	if err := s.setRemote(webrtc.SDPTypeAnswer, msg); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	s.addRemoteCandidates(msg.Candidates)
	return nil
}

func (s *PeerSession) setRemote(sdpType webrtc.SDPType, msg *domain.SignalMessage) error {
	desc := msg.Offer
	if sdpType == webrtc.SDPTypeAnswer {
		desc = msg.Answer
	}
	remote := webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}
	if err := s.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	s.remotePurposes = msg.Streams
	parsed, err := remote.Unmarshal()
	if err != nil {
		s.logger.Debugw("remote description not parseable for stream fallback", "error", err)
	}
	s.remoteSDP = parsed

	copied := *desc
	s.updateStatus(func(st *domain.ConnectionStatus) { st.RemoteDescription = &copied })
	return nil
}

// addRemoteCandidates applies each candidate independently; one bad
// candidate does not abort negotiation.
func (s *PeerSession) addRemoteCandidates(candidates []domain.ICECandidate) {
	for _, c := range candidates {
		if c.Candidate == "" {
			continue
		}
		candidate := webrtc.ICECandidateInit{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
		}
		if err := s.pc.AddICECandidate(candidate); err != nil {
			s.logger.Warnw("failed to add remote candidate", "candidate", c.Candidate, "error", err)
		}
	}
}

func (s *PeerSession) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		s.flushCandidates()
		return
	}
	j := c.ToJSON()
	s.candidates = append(s.candidates, domain.ICECandidate{
		Candidate:        j.Candidate,
		SDPMid:           j.SDPMid,
		SDPMLineIndex:    j.SDPMLineIndex,
		UsernameFragment: j.UsernameFragment,
	})
}

// flushCandidates sends the local description together with every gathered
// candidate once path discovery is complete.
func (s *PeerSession) flushCandidates() {
	if s.flushed || s.pc == nil {
		return
	}
	local := s.pc.LocalDescription()
	if local == nil {
		return
	}
	s.flushed = true

	candidates := s.candidates
	if candidates == nil {
		candidates = []domain.ICECandidate{}
	}
	s.candidates = nil

	desc := &domain.SessionDescription{Type: local.Type.String(), SDP: local.SDP}
	msg := &domain.SignalMessage{
		Sender:     s.deps.Self,
		Candidates: candidates,
		Streams:    s.localPurposes(),
	}
	if s.role == domain.RoleOfferer {
		msg.Type = domain.SignalOfferWithCandidates
		msg.Offer = desc
	} else {
		msg.Type = domain.SignalAnswerWithCandidates
		msg.Answer = desc
	}

	s.logger.Infow("path discovery complete", "attempt_id", s.attemptID, "candidates", len(candidates))
	s.sendSignal(msg)
	s.updateStatus(func(st *domain.ConnectionStatus) {
		st.State = domain.StateNegotiating
		st.LocalDescription = desc
	})
}

func (s *PeerSession) localPurposes() map[string]domain.StreamPurpose {
	out := make(map[string]domain.StreamPurpose, 2)
	if audio := s.deps.Media.PlaceholderAudio(); audio != nil {
		out[audio.StreamID] = domain.PurposeVoice
	}
	if video := s.deps.Media.PlaceholderVideo(); video != nil {
		out[video.StreamID] = domain.PurposeScreen
	}
	return out
}

func (s *PeerSession) sendSignal(msg *domain.SignalMessage) {
	attemptID := s.attemptID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, span := tracing.TraceSignal(s.ctx, "send", string(msg.Type), s.addr.String())
		defer span.End()

		err := s.deps.Relay.Send(ctx, s.addr, msg)
		s.deps.Metrics.SignalSent(msg.Type, err)
		if err != nil {
			tracing.RecordError(ctx, err)
			s.logger.Warnw("failed to send signaling message", "type", msg.Type, "attempt_id", attemptID, "error", err)
		}
	}()
}

func (s *PeerSession) onICEState(state webrtc.ICEConnectionState) {
	s.logger.Infow("peer ICE connection state changed", "ice_state", state, "attempt_id", s.attemptID)

	cs := domain.ConnectionState(state.String())
	s.deps.Metrics.ConnectionState(cs)
	s.updateStatus(func(st *domain.ConnectionStatus) {
		st.State = cs
		st.Latency = 0
	})

	if (state == webrtc.ICEConnectionStateConnected || state == webrtc.ICEConnectionStateCompleted) && !s.negotiated {
		s.negotiated = true
		s.askAttempts = 0
		s.deps.Metrics.NegotiationDuration(s.role, s.clock.Now().Sub(s.attemptStarted).Seconds())
	}
}

// needsOffer reports whether an answerer should ask for a (new) offer.
func (s *PeerSession) needsOffer() bool {
	if s.pc == nil {
		return true
	}
	switch s.pc.ICEConnectionState() {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		return true
	}
	return false
}

func (s *PeerSession) armAskOffer(delay time.Duration) {
	if s.role != domain.RoleAnswerer {
		return
	}
	s.stopAskOffer()
	gen := s.gen
	s.askTimer = s.clock.AfterFunc(delay, func() { s.post(event{kind: evAskOffer, gen: gen}) })
}

func (s *PeerSession) stopAskOffer() {
	if s.askTimer != nil {
		s.askTimer.Stop()
		s.askTimer = nil
	}
}

func (s *PeerSession) onAskOffer() {
	s.stopAskOffer()
	if !s.needsOffer() {
		s.askAttempts = 0
		s.armAskOffer(s.cfg.OfferRetry.Backoff(0))
		return
	}

	s.askAttempts++
	s.sendSignal(&domain.SignalMessage{Type: domain.SignalAskOffer, Sender: s.deps.Self})
	if s.cfg.OfferRetry.Exhausted(s.askAttempts) {
		s.logger.Warnw("giving up asking for an offer", "attempts", s.askAttempts)
		return
	}
	s.armAskOffer(s.cfg.OfferRetry.Backoff(s.askAttempts - 1))
}

func (s *PeerSession) updateStatus(fn func(*domain.ConnectionStatus)) {
	now := s.clock.Now()
	_, err := s.deps.Statuses.Update(s.ctx, s.addr, func(st *domain.ConnectionStatus) {
		fn(st)
		st.UpdatedAt = now
	})
	if err != nil {
		s.logger.Debugw("failed to update connection status", "error", err)
	}
}

// teardown detaches every handler before closing anything, then cancels the
// timers owned by the transport and closes it. Replacement flags reset with
// the transport.
func (s *PeerSession) teardown() {
	s.gen++
	s.stopResync()
	s.stopAskOffer()
	if s.heartbeat != nil {
		s.heartbeat.stop()
		s.heartbeat = nil
	}

	if s.pc == nil {
		return
	}
	pc := s.pc

	pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	pc.OnICEGatheringStateChange(func(webrtc.ICEGathererState) {})
	pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	pc.OnDataChannel(func(*webrtc.DataChannel) {})
	pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})

	if s.dc != nil {
		s.dc.OnOpen(func() {})
		s.dc.OnMessage(func(webrtc.DataChannelMessage) {})
		if err := s.dc.Close(); err != nil {
			s.logger.Debugw("error closing data channel", "error", err)
		}
		s.dc = nil
	}
	s.dcOpen = false

	if err := pc.Close(); err != nil {
		s.logger.Warnw("error closing peer connection", "attempt_id", s.attemptID, "error", err)
	}
	s.pc = nil
	s.live--

	s.candidates = nil
	s.flushed = false
	s.remotePurposes = nil
	s.remoteSDP = nil
	s.incoming = make(map[string][]*webrtc.TrackRemote)
	s.audioReplaced = false
	s.videoReplaced = false

	if err := s.deps.Streams.Clear(s.ctx, s.addr); err != nil {
		s.logger.Debugw("failed to clear remote streams", "error", err)
	}
	s.updateStatus(func(st *domain.ConnectionStatus) { st.DataChannelOpen = false })
	s.logger.Debugw("transport session torn down", "attempt_id", s.attemptID)
}

func (s *PeerSession) applyAudio() error {
	if s.pc == nil || s.audioReplaced || s.audioSource == nil {
		return nil
	}
	tracks := s.audioSource.AudioTracks()
	if len(tracks) == 0 {
		return fmt.Errorf("audio source %q has no audio track", s.audioSource.StreamID)
	}
	if err := s.replaceSenderTrack(s.deps.Media.PlaceholderTrackIDs().VoiceAudio, tracks[0]); err != nil {
		return err
	}
	s.audioReplaced = true
	s.logger.Infow("replaced voice placeholder", "track_id", tracks[0].ID())
	return nil
}

func (s *PeerSession) applyVideo() error {
	if s.pc == nil || s.videoReplaced || s.videoSource == nil {
		return nil
	}
	ids := s.deps.Media.PlaceholderTrackIDs()
	videos := s.videoSource.VideoTracks()
	if len(videos) == 0 {
		return fmt.Errorf("video source %q has no video track", s.videoSource.StreamID)
	}
	if err := s.replaceSenderTrack(ids.ScreenVideo, videos[0]); err != nil {
		return err
	}
	if s.videoIncludeAudio {
		if audios := s.videoSource.AudioTracks(); len(audios) > 0 {
			if err := s.replaceSenderTrack(ids.ScreenAudio, audios[0]); err != nil {
				return err
			}
		}
	}
	s.videoReplaced = true
	s.logger.Infow("replaced screen placeholder", "track_id", videos[0].ID(), "include_audio", s.videoIncludeAudio)
	return nil
}

// replaceSenderTrack finds the sender carrying the placeholder with the given
// id and swaps its track without renegotiating.
func (s *PeerSession) replaceSenderTrack(placeholderID string, track webrtc.TrackLocal) error {
	for _, sender := range s.pc.GetSenders() {
		current := sender.Track()
		if current == nil || current.ID() != placeholderID {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("failed to replace track %s: %w", placeholderID, err)
		}
		return nil
	}
	return fmt.Errorf("no sender carries placeholder track %s", placeholderID)
}

func (s *PeerSession) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	s.wg.Add(1)
	go s.readReceiverRTCP(receiver)

	streamID := track.StreamID()
	purpose, ok := s.classify(streamID)
	if !ok {
		s.logger.Warnw("unclassified remote track", "stream_id", streamID, "track_id", track.ID(), "kind", track.Kind())
		return
	}

	s.incoming[streamID] = append(s.incoming[streamID], track)
	stream := ports.RemoteStream{
		PeerAddress: s.addr,
		StreamID:    streamID,
		Purpose:     purpose,
		Tracks:      append([]*webrtc.TrackRemote(nil), s.incoming[streamID]...),
		ReceivedAt:  s.clock.Now(),
	}
	if err := s.deps.Streams.Publish(s.ctx, stream); err != nil {
		s.logger.Warnw("failed to publish remote stream", "stream_id", streamID, "error", err)
		return
	}
	s.logger.Infow("received remote track",
		"stream_id", streamID,
		"track_id", track.ID(),
		"purpose", purpose,
		"codec", track.Codec().MimeType,
	)
}

func (s *PeerSession) classify(streamID string) (domain.StreamPurpose, bool) {
	if p, ok := s.remotePurposes[streamID]; ok && p.Valid() {
		return p, true
	}
	return purposeFromTrackCount(s.remoteSDP, streamID)
}

func (s *PeerSession) sendData(msg domain.DataMessage) error {
	if s.dc == nil || !s.dcOpen {
		return domain.ErrNoTransport
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return s.dc.SendText(string(payload))
}
