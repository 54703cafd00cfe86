package webrtc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/internal/core/services"
	"meshvoice/internal/infrastructure/media"
	"meshvoice/internal/infrastructure/repositories/memory"
	"meshvoice/pkg/retry"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMetrics struct{}

func (nopMetrics) SessionOpened(domain.Role)                {}
func (nopMetrics) SessionClosed(domain.Role)                {}
func (nopMetrics) ConnectionState(domain.ConnectionState)   {}
func (nopMetrics) HeartbeatLatency(int64)                   {}
func (nopMetrics) HeartbeatTimeout()                        {}
func (nopMetrics) SignalSent(domain.SignalType, error)      {}
func (nopMetrics) SignalReceived(domain.SignalType)         {}
func (nopMetrics) NegotiationDuration(domain.Role, float64) {}
func (nopMetrics) RTCPPacket(string, string)                {}
func (nopMetrics) MembershipMerge(domain.MergeOutcome)      {}

type countingMetrics struct {
	nopMetrics
	latencies atomic.Int64
}

func (m *countingMetrics) HeartbeatLatency(int64) { m.latencies.Add(1) }

type sentSignal struct {
	to  domain.PeerAddress
	msg *domain.SignalMessage
}

type recordingRelay struct {
	sent chan sentSignal
}

func newRecordingRelay() *recordingRelay {
	return &recordingRelay{sent: make(chan sentSignal, 64)}
}

func (r *recordingRelay) Send(ctx context.Context, to domain.PeerAddress, msg *domain.SignalMessage) error {
	select {
	case r.sent <- sentSignal{to: to, msg: msg}:
	default:
	}
	return nil
}

func (r *recordingRelay) next(t *testing.T, want domain.SignalType) sentSignal {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case s := <-r.sent:
			if s.msg.Type == want {
				return s
			}
		case <-deadline:
			t.Fatalf("no %s message sent", want)
		}
	}
}

type harness struct {
	manager  *Manager
	relay    ports.RelayTransport
	recorder *recordingRelay
	statuses *memory.MemoryStatusRepository
	streams  ports.StreamRepository
	channels ports.ChannelRepository
	media    *media.PlaceholderProvider
	metrics  *countingMetrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ICEServers = nil
	return cfg
}

func newHarness(t *testing.T, self string, c clock, cfg Config, relay ports.RelayTransport) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()

	placeholders, err := media.NewPlaceholderProvider(logger)
	require.NoError(t, err)

	api, err := newAPI(cfg, zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		statuses: memory.NewMemoryStatusRepository(),
		streams:  memory.NewMemoryStreamRepository(),
		channels: memory.NewMemoryChannelRepository(false),
		media:    placeholders,
		metrics:  &countingMetrics{},
	}
	placeholders.Start(context.Background())
	t.Cleanup(placeholders.Stop)

	if relay == nil {
		h.recorder = newRecordingRelay()
		relay = h.recorder
	}
	h.relay = relay

	deps := Dependencies{
		Self:       domain.SelfAddresses{IPv4: self},
		Relay:      relay,
		Media:      placeholders,
		Membership: services.NewMembershipService(h.channels, nopMetrics{}, logger),
		Statuses:   h.statuses,
		Streams:    h.streams,
		Metrics:    h.metrics,
		Logger:     logger,
	}
	h.manager = newManager(cfg, api, deps, domain.Mirror{}, c)
	t.Cleanup(func() { _ = h.manager.Close() })
	return h
}

// inspect runs fn on the session loop.
func inspect(t *testing.T, s *PeerSession, fn func()) {
	t.Helper()
	require.NoError(t, s.do(context.Background(), func() error {
		fn()
		return nil
	}))
}

func currentTransport(t *testing.T, s *PeerSession) (*webrtc.PeerConnection, int) {
	var pc *webrtc.PeerConnection
	var live int
	inspect(t, s, func() {
		pc = s.pc
		live = s.live
	})
	return pc, live
}

func senderTrackIDs(t *testing.T, s *PeerSession) []string {
	var ids []string
	inspect(t, s, func() {
		for _, sender := range s.pc.GetSenders() {
			if track := sender.Track(); track != nil {
				ids = append(ids, track.ID())
			}
		}
	})
	return ids
}

func TestSession_OffererSendsOfferWithCandidates(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.2", domain.RoleOfferer))

	sent := h.recorder.next(t, domain.SignalOfferWithCandidates)
	assert.Equal(t, domain.PeerAddress("10.0.0.2"), sent.to)
	assert.Equal(t, domain.SelfAddresses{IPv4: "10.0.0.1"}, sent.msg.Sender)
	require.NotNil(t, sent.msg.Offer)
	assert.Equal(t, "offer", sent.msg.Offer.Type)
	assert.NotNil(t, sent.msg.Candidates)
	assert.Equal(t, map[string]domain.StreamPurpose{
		media.VoiceStreamID:  domain.PurposeVoice,
		media.ScreenStreamID: domain.PurposeScreen,
	}, sent.msg.Streams)
	require.NoError(t, sent.msg.Validate())

	require.Eventually(t, func() bool {
		st, err := h.statuses.Get(ctx, "10.0.0.2")
		return err == nil && st.State == domain.StateNegotiating && st.LocalDescription != nil
	}, 5*time.Second, 20*time.Millisecond)

	s, ok := h.manager.Session("10.0.0.2")
	require.True(t, ok)
	assert.ElementsMatch(t,
		[]string{media.VoiceAudioTrackID, media.ScreenVideoTrackID, media.ScreenAudioTrackID},
		senderTrackIDs(t, s))
}

func TestSession_TeardownBeforeCreate(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.2", domain.RoleOfferer))
	s, ok := h.manager.Session("10.0.0.2")
	require.True(t, ok)

	previous, live := currentTransport(t, s)
	require.NotNil(t, previous)
	require.Equal(t, 1, live)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.manager.Renegotiate(ctx, "10.0.0.2"))

		pc, live := currentTransport(t, s)
		require.NotNil(t, pc)
		assert.NotSame(t, previous, pc)
		assert.Equal(t, 1, live)
		assert.Equal(t, webrtc.PeerConnectionStateClosed, previous.ConnectionState())
		previous = pc
	}

	require.NoError(t, h.manager.Remove(ctx, "10.0.0.2"))
	assert.Equal(t, webrtc.PeerConnectionStateClosed, previous.ConnectionState())
	_, err := h.statuses.Get(ctx, "10.0.0.2")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func newSource(t *testing.T, streamID string, purpose domain.StreamPurpose, tracks ...webrtc.TrackLocal) *ports.MediaSource {
	t.Helper()
	return &ports.MediaSource{StreamID: streamID, Purpose: purpose, Tracks: tracks}
}

func newTrack(t *testing.T, mime, id, streamID string) webrtc.TrackLocal {
	t.Helper()
	capability := webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 48000, Channels: 2}
	if mime == webrtc.MimeTypeVP8 {
		capability = webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(capability, id, streamID)
	require.NoError(t, err)
	return track
}

func TestSession_ReplaceSourcesOncePerTransport(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.2", domain.RoleOfferer))
	s, _ := h.manager.Session("10.0.0.2")

	mic := newSource(t, "mic", domain.PurposeVoice, newTrack(t, webrtc.MimeTypeOpus, "mic-1", "mic"))
	require.NoError(t, h.manager.ReplaceAudioSource(ctx, mic))
	ids := senderTrackIDs(t, s)
	assert.Contains(t, ids, "mic-1")
	assert.NotContains(t, ids, media.VoiceAudioTrackID)

	// second replacement on the same transport is a no-op
	other := newSource(t, "mic", domain.PurposeVoice, newTrack(t, webrtc.MimeTypeOpus, "mic-2", "mic"))
	require.NoError(t, s.ReplaceAudioSource(ctx, other))
	ids = senderTrackIDs(t, s)
	assert.Contains(t, ids, "mic-1")
	assert.NotContains(t, ids, "mic-2")

	screen := newSource(t, "desk", domain.PurposeScreen,
		newTrack(t, webrtc.MimeTypeVP8, "desk-video", "desk"),
		newTrack(t, webrtc.MimeTypeOpus, "desk-audio", "desk"),
	)
	require.NoError(t, h.manager.ReplaceVideoSource(ctx, screen, true))
	assert.ElementsMatch(t, []string{"mic-1", "desk-video", "desk-audio"}, senderTrackIDs(t, s))

	// a new transport starts from placeholders and gets the sources again
	require.NoError(t, h.manager.Renegotiate(ctx, "10.0.0.2"))
	assert.ElementsMatch(t, []string{"mic-1", "desk-video", "desk-audio"}, senderTrackIDs(t, s))
}

func TestSession_ReplaceVideoWithoutAudioKeepsPlaceholder(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.2", domain.RoleOfferer))
	s, _ := h.manager.Session("10.0.0.2")

	screen := newSource(t, "desk", domain.PurposeScreen,
		newTrack(t, webrtc.MimeTypeVP8, "desk-video", "desk"),
		newTrack(t, webrtc.MimeTypeOpus, "desk-audio", "desk"),
	)
	require.NoError(t, s.ReplaceVideoSource(ctx, screen, false))
	assert.ElementsMatch(t,
		[]string{media.VoiceAudioTrackID, "desk-video", media.ScreenAudioTrackID},
		senderTrackIDs(t, s))

	assert.Error(t, h.manager.ReplaceAudioSource(ctx, &ports.MediaSource{StreamID: "empty"}))
}

func TestSession_AnswererAsksForOfferUntilExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.OfferRetry = retry.Config{InitialDelay: 6 * time.Second, Multiplier: 1, MaxAttempts: 2}
	clk := newFakeClock()
	h := newHarness(t, "10.0.0.2", clk, cfg, nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.1", domain.RoleAnswerer))
	s, _ := h.manager.Session("10.0.0.1")
	inspect(t, s, func() {})

	clk.Advance(6 * time.Second)
	sent := h.recorder.next(t, domain.SignalAskOffer)
	assert.Equal(t, domain.PeerAddress("10.0.0.1"), sent.to)
	assert.Equal(t, domain.SelfAddresses{IPv4: "10.0.0.2"}, sent.msg.Sender)

	inspect(t, s, func() {})
	clk.Advance(6 * time.Second)
	h.recorder.next(t, domain.SignalAskOffer)

	// budget spent: no timer left armed
	inspect(t, s, func() {})
	assert.Zero(t, clk.pending())

	// an explicit renegotiation asks again
	require.NoError(t, h.manager.Renegotiate(ctx, "10.0.0.1"))
	h.recorder.next(t, domain.SignalAskOffer)
}

type stubMedia struct{}

func (stubMedia) PlaceholderAudio() *ports.MediaSource            { return nil }
func (stubMedia) PlaceholderVideo() *ports.MediaSource            { return nil }
func (stubMedia) PlaceholderTrackIDs() ports.PlaceholderTrackIDs { return ports.PlaceholderTrackIDs{} }

func TestSession_MissingPlaceholdersFailNegotiation(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	h.manager.deps.Media = stubMedia{}
	ctx := context.Background()

	err := h.manager.Connect(ctx, "10.0.0.2", domain.RoleOfferer)
	assert.ErrorIs(t, err, domain.ErrPlaceholderMissing)

	s, ok := h.manager.Session("10.0.0.2")
	require.True(t, ok)
	pc, live := currentTransport(t, s)
	assert.Nil(t, pc)
	assert.Zero(t, live)
}

func TestManager_HandleSignalRouting(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	ctx := context.Background()

	// malformed payloads are rejected before any session exists
	err := h.manager.HandleSignal(ctx, &domain.SignalMessage{
		Type:   domain.SignalOfferWithCandidates,
		Sender: domain.SelfAddresses{IPv4: "10.0.0.9"},
	})
	assert.ErrorIs(t, err, domain.ErrMalformedSignal)
	assert.Empty(t, h.manager.Sessions())

	err = h.manager.HandleSignal(ctx, &domain.SignalMessage{Type: "hello", Sender: domain.SelfAddresses{IPv4: "10.0.0.9"}})
	assert.ErrorIs(t, err, domain.ErrUnknownSignal)

	// an answer without a session is dropped
	err = h.manager.HandleSignal(ctx, &domain.SignalMessage{
		Type:       domain.SignalAnswerWithCandidates,
		Sender:     domain.SelfAddresses{IPv4: "10.0.0.9"},
		Answer:     &domain.SessionDescription{Type: "answer", SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"},
		Candidates: []domain.ICECandidate{},
	})
	assert.NoError(t, err)

	// ask-offer creates an offerer session which offers
	require.NoError(t, h.manager.HandleSignal(ctx, &domain.SignalMessage{
		Type:   domain.SignalAskOffer,
		Sender: domain.SelfAddresses{IPv4: "10.0.0.3"},
	}))
	assert.Equal(t, []domain.PeerAddress{"10.0.0.3"}, h.manager.Sessions())
	h.recorder.next(t, domain.SignalOfferWithCandidates)

	// an offer aimed at our offerer session is a role mismatch
	offerer, _ := h.manager.Session("10.0.0.3")
	var offer *webrtc.SessionDescription
	inspect(t, offerer, func() { offer = offerer.pc.LocalDescription() })
	require.NotNil(t, offer)
	err = h.manager.HandleSignal(ctx, &domain.SignalMessage{
		Type:       domain.SignalOfferWithCandidates,
		Sender:     domain.SelfAddresses{IPv4: "10.0.0.3"},
		Offer:      &domain.SessionDescription{Type: "offer", SDP: offer.SDP},
		Candidates: []domain.ICECandidate{},
	})
	assert.ErrorIs(t, err, domain.ErrRoleMismatch)

	// and ask-offer aimed at an answerer session is too
	require.NoError(t, h.manager.Connect(ctx, "10.0.0.4", domain.RoleAnswerer))
	err = h.manager.HandleSignal(ctx, &domain.SignalMessage{
		Type:   domain.SignalAskOffer,
		Sender: domain.SelfAddresses{IPv4: "10.0.0.4"},
	})
	assert.ErrorIs(t, err, domain.ErrRoleMismatch)

	assert.ErrorIs(t, h.manager.Remove(ctx, "10.0.0.77"), domain.ErrSessionNotFound)
}

func TestManager_ConnectDefaultsRoleAndRejectsSelf(t *testing.T) {
	h := newHarness(t, "10.0.0.5", realClock{}, testConfig(), nil)
	ctx := context.Background()

	assert.Error(t, h.manager.Connect(ctx, "10.0.0.5", ""))

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.9", ""))
	s, _ := h.manager.Session("10.0.0.9")
	assert.Equal(t, domain.RoleOfferer, s.Role())

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.1", ""))
	s, _ = h.manager.Session("10.0.0.1")
	assert.Equal(t, domain.RoleAnswerer, s.Role())

	assert.ErrorIs(t, h.manager.Connect(ctx, "10.0.0.1", domain.RoleOfferer), domain.ErrRoleMismatch)
	assert.NoError(t, h.manager.Connect(ctx, "10.0.0.1", domain.RoleAnswerer))
}

func TestManager_ClosedRefusesSessions(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.2", domain.RoleAnswerer))
	require.NoError(t, h.manager.Close())

	assert.Empty(t, h.manager.Sessions())
	assert.ErrorIs(t, h.manager.Connect(ctx, "10.0.0.3", domain.RoleAnswerer), domain.ErrSessionClosed)
}

// loopbackRelay delivers messages straight into the other manager.
type loopbackRelay struct {
	mu    sync.Mutex
	peers map[domain.PeerAddress]*Manager
	wg    sync.WaitGroup
}

func (r *loopbackRelay) Send(ctx context.Context, to domain.PeerAddress, msg *domain.SignalMessage) error {
	r.mu.Lock()
	target := r.peers[to]
	r.mu.Unlock()
	if target == nil {
		return domain.ErrSessionNotFound
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = target.HandleSignal(context.Background(), msg)
	}()
	return nil
}

func hasRoutableInterface() bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return true
		}
	}
	return false
}

func TestManager_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("end to end negotiation")
	}
	if !hasRoutableInterface() {
		t.Skip("no non-loopback interface for host candidates")
	}

	relay := &loopbackRelay{peers: make(map[domain.PeerAddress]*Manager)}
	a := newHarness(t, "10.0.0.1", realClock{}, testConfig(), relay)
	b := newHarness(t, "10.0.0.2", realClock{}, testConfig(), relay)
	relay.peers["10.0.0.1"] = a.manager
	relay.peers["10.0.0.2"] = b.manager
	t.Cleanup(relay.wg.Wait)

	ctx := context.Background()
	a.manager.SetMirror(ctx, domain.Mirror{
		User:           &domain.User{ID: "alice", Name: "Alice"},
		InVoiceChannel: &domain.VoiceChannel{ID: 3, Name: "lobby"},
	})

	require.NoError(t, b.manager.Connect(ctx, "10.0.0.1", domain.RoleAnswerer))
	require.NoError(t, a.manager.Connect(ctx, "10.0.0.2", domain.RoleOfferer))

	connected := func(h *harness, addr domain.PeerAddress) func() bool {
		return func() bool {
			st, err := h.statuses.Get(ctx, addr)
			return err == nil && st.Connected() && st.DataChannelOpen
		}
	}
	require.Eventually(t, connected(a, "10.0.0.2"), 20*time.Second, 50*time.Millisecond)
	require.Eventually(t, connected(b, "10.0.0.1"), 20*time.Second, 50*time.Millisecond)

	// alice's presence lands in b's channel store
	require.Eventually(t, func() bool {
		users, err := b.channels.Users(ctx, 3)
		return err == nil && len(users) == 1 && users[0].ID == "alice"
	}, 10*time.Second, 50*time.Millisecond)

	st, err := b.statuses.Get(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, st.UserConfig)
	assert.Equal(t, "alice", st.UserConfig.ID)

	// heartbeat round trips
	require.Eventually(t, func() bool {
		return a.metrics.latencies.Load() > 0 && b.metrics.latencies.Load() > 0
	}, 10*time.Second, 50*time.Millisecond)

	// placeholders arrive on the other side classified by their tags
	require.Eventually(t, func() bool {
		_, voice := b.streams.Get(ctx, "10.0.0.1", domain.PurposeVoice)
		_, screen := b.streams.Get(ctx, "10.0.0.1", domain.PurposeScreen)
		return voice && screen
	}, 10*time.Second, 50*time.Millisecond)

	// leaving the channel propagates on the next push
	a.manager.SetMirror(ctx, domain.Mirror{User: &domain.User{ID: "alice", Name: "Alice"}})
	require.Eventually(t, func() bool {
		users, err := b.channels.Users(ctx, 3)
		return err == nil && len(users) == 0
	}, 10*time.Second, 50*time.Millisecond)
}

func TestManager_SetMirrorDrivesMergeMode(t *testing.T) {
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), nil)
	ctx := context.Background()

	h.manager.SetMirror(ctx, domain.Mirror{
		User:             &domain.User{ID: "me"},
		IsPresetChannels: true,
	})
	preset, err := h.channels.IsPresetChannels(ctx)
	require.NoError(t, err)
	assert.True(t, preset)

	// a preset peer in channel 7 lands in channel 7, matching what we broadcast
	res, err := h.manager.deps.Membership.ApplyRemoteStatus(ctx, "10.0.0.2", domain.Mirror{
		User:             &domain.User{ID: "bob"},
		InVoiceChannel:   &domain.VoiceChannel{ID: 7, Name: "general"},
		IsPresetChannels: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MergeAdded, res.Outcome)
	assert.Equal(t, int64(7), res.ChannelID)

	h.manager.SetMirror(ctx, domain.Mirror{User: &domain.User{ID: "me"}})
	res, err = h.manager.deps.Membership.ApplyRemoteStatus(ctx, "10.0.0.3", domain.Mirror{
		User:             &domain.User{ID: "carol"},
		InVoiceChannel:   &domain.VoiceChannel{ID: 7, Name: "general"},
		IsPresetChannels: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MergeAddedTemporary, res.Outcome)
	assert.Equal(t, domain.TemporaryChannelID(7), res.ChannelID)
}

type forgettingRelay struct {
	*recordingRelay
	mu        sync.Mutex
	forgotten []domain.PeerAddress
}

func (r *forgettingRelay) Forget(addr domain.PeerAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, addr)
}

func TestManager_RemoveForgetsRelayState(t *testing.T) {
	relay := &forgettingRelay{recordingRelay: newRecordingRelay()}
	h := newHarness(t, "10.0.0.1", realClock{}, testConfig(), relay)
	ctx := context.Background()

	require.NoError(t, h.manager.Connect(ctx, "10.0.0.2", domain.RoleAnswerer))
	require.NoError(t, h.manager.Remove(ctx, "10.0.0.2"))

	relay.mu.Lock()
	defer relay.mu.Unlock()
	assert.Equal(t, []domain.PeerAddress{"10.0.0.2"}, relay.forgotten)

	assert.ErrorIs(t, h.manager.Remove(ctx, "10.0.0.2"), domain.ErrSessionNotFound)
}
