package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/webrtc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAuth struct {
	session domain.Session
}

func (a *stubAuth) Login(ctx context.Context, username, password string) (domain.Session, error) {
	return a.session, nil
}
func (a *stubAuth) Refresh(ctx context.Context) (domain.Session, error) { return a.session, nil }
func (a *stubAuth) Current() domain.Session                             { return a.session }

type allowAllPermissions struct{}

func (allowAllPermissions) CheckMedia(ctx context.Context, kind domain.CallKind) error { return nil }

type denyPermissions struct{}

func (denyPermissions) CheckMedia(ctx context.Context, kind domain.CallKind) error {
	return domain.ErrPermission
}

// recordingDispatcher captures outbound signals and the call-scoped listener.
type recordingDispatcher struct {
	mu       sync.Mutex
	offers   []domain.SessionDescription
	answers  []domain.SessionDescription
	ends     int
	rejects  []string
	listener ports.SignalListener
	expected domain.Username
	clears   int
}

func (d *recordingDispatcher) SendOffer(to domain.Username, desc domain.SessionDescription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offers = append(d.offers, desc)
	return nil
}

func (d *recordingDispatcher) SendAnswer(to domain.Username, desc domain.SessionDescription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.answers = append(d.answers, desc)
	return nil
}

func (d *recordingDispatcher) SendCandidate(to domain.Username, c domain.ICECandidate) error {
	return nil
}

func (d *recordingDispatcher) SendEnd(to domain.Username) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ends++
	return nil
}

func (d *recordingDispatcher) SendReject(to domain.Username, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejects = append(d.rejects, reason)
	return nil
}

func (d *recordingDispatcher) SetListener(expectedPeer domain.Username, l ports.SignalListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expected = expectedPeer
	d.listener = l
}

func (d *recordingDispatcher) ClearListener() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clears++
	d.listener = nil
}

func (d *recordingDispatcher) HandleInbound(sig domain.CallSignal) {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	if l != nil {
		l(sig)
	}
}

func (d *recordingDispatcher) offerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.offers)
}

func (d *recordingDispatcher) endCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ends
}

func (d *recordingDispatcher) clearCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clears
}

// stubConnection is the minimal engine connection the coordinator flows need.
type stubConnection struct {
	mu      sync.Mutex
	obs     ports.ConnectionObserver
	answers int
	remotes []domain.SessionDescription
	closed  int
}

func (c *stubConnection) CreateOffer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "v=0 stub-offer"}, nil
}

func (c *stubConnection) CreateAnswer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers++
	return domain.SessionDescription{Type: "answer", SDP: "v=0 stub-answer"}, nil
}

func (c *stubConnection) SetLocalDescription(desc domain.SessionDescription) error { return nil }

func (c *stubConnection) SetRemoteDescription(desc domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remotes = append(c.remotes, desc)
	return nil
}

func (c *stubConnection) AddICECandidate(cand domain.ICECandidate) error { return nil }
func (c *stubConnection) AttachTrack(t ports.AudioTrack) error           { return nil }
func (c *stubConnection) AttachLegacyStream(t ports.AudioTrack) error    { return nil }

func (c *stubConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type stubTrack struct{}

func (stubTrack) ID() string { return "stub-track" }
func (stubTrack) Stop()      {}

type stubEngine struct {
	mu    sync.Mutex
	conns []*stubConnection
}

func (e *stubEngine) Initialize(ctx context.Context) error { return nil }

func (e *stubEngine) NewConnection(servers []ports.ICEServer, obs ports.ConnectionObserver) (ports.PeerConnection, error) {
	conn := &stubConnection{obs: obs}
	e.mu.Lock()
	e.conns = append(e.conns, conn)
	e.mu.Unlock()
	return conn, nil
}

func (e *stubEngine) NewAudioTrack(constraints ports.AudioConstraints) (ports.AudioTrack, error) {
	return stubTrack{}, nil
}

func (e *stubEngine) Release() {}

func (e *stubEngine) conn(t *testing.T, i int) *stubConnection {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.Greater(t, len(e.conns), i, "engine connection %d not created", i)
	return e.conns[i]
}

func newTestCoordinator(t *testing.T, dispatcher *recordingDispatcher, engine *stubEngine, perms ports.PermissionChecker, cfg CallConfig) *CallCoordinator {
	t.Helper()
	logger := zap.NewNop().Sugar()
	metrics := monitoring.NewCollector()
	return NewCallCoordinator(
		&stubAuth{session: domain.Session{Username: "alice", Token: "t"}},
		dispatcher,
		engine,
		perms,
		webrtc.NewQualityMonitor(metrics, logger),
		metrics,
		cfg,
		logger,
	)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCoordinator_OutgoingCallLifecycle(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := &stubEngine{}
	c := newTestCoordinator(t, dispatcher, engine, allowAllPermissions{}, CallConfig{})

	err := c.Start(context.Background(), domain.CallParams{
		Kind:      domain.CallKindAudio,
		Peer:      "bob",
		Direction: domain.DirectionOutgoing,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallDialing, c.State())
	assert.Equal(t, domain.Username("bob"), c.Peer())

	// The offer went out exactly once, with a non-empty SDP.
	waitFor(t, func() bool { return dispatcher.offerCount() == 1 }, "offer not sent")
	dispatcher.mu.Lock()
	offer := dispatcher.offers[0]
	dispatcher.mu.Unlock()
	assert.NotEmpty(t, offer.SDP)
	assert.Equal(t, domain.Username("bob"), dispatcher.expected)

	// Remote answer arrives, then the engine connects.
	dispatcher.HandleInbound(domain.CallSignal{
		Type: domain.SignalAnswer, From: "bob", To: "alice",
		Description: &domain.SessionDescription{Type: "answer", SDP: "v=0 remote"},
	})
	conn := engine.conn(t, 0)
	conn.obs.OnConnectionState(domain.ConnConnected)

	waitFor(t, func() bool { return c.State() == domain.CallActive }, "call never became active")
	assert.Equal(t, 1, dispatcher.offerCount(), "offer must never be re-sent")

	require.NoError(t, c.End(context.Background()))
	assert.Equal(t, domain.CallEnded, c.State())
	assert.Equal(t, 1, dispatcher.endCount())
	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed == 1
	}, "connection not closed")
	assert.Equal(t, 1, dispatcher.clearCount())

	// End is idempotent via the finishing guard.
	assert.ErrorIs(t, c.End(context.Background()), domain.ErrNoActiveCall)
	assert.Equal(t, 1, dispatcher.endCount())
}

func TestCoordinator_PermissionDeniedAbandons(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	c := newTestCoordinator(t, dispatcher, &stubEngine{}, denyPermissions{}, CallConfig{})

	err := c.Start(context.Background(), domain.CallParams{
		Kind:      domain.CallKindAudio,
		Peer:      "bob",
		Direction: domain.DirectionOutgoing,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPermission)
	assert.Equal(t, domain.CallIdle, c.State())
	assert.Zero(t, dispatcher.offerCount())
}

func TestCoordinator_SecondStartRejected(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	c := newTestCoordinator(t, dispatcher, &stubEngine{}, allowAllPermissions{}, CallConfig{})

	require.NoError(t, c.Start(context.Background(), domain.CallParams{
		Kind: domain.CallKindAudio, Peer: "bob", Direction: domain.DirectionOutgoing,
	}))
	err := c.Start(context.Background(), domain.CallParams{
		Kind: domain.CallKindAudio, Peer: "carol", Direction: domain.DirectionOutgoing,
	})
	assert.ErrorIs(t, err, domain.ErrCallInProgress)
}

func TestCoordinator_IncomingWithOfferAnswersImmediately(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := &stubEngine{}
	c := newTestCoordinator(t, dispatcher, engine, allowAllPermissions{}, CallConfig{})

	err := c.Start(context.Background(), domain.CallParams{
		Kind:      domain.CallKindAudio,
		Peer:      "bob",
		Direction: domain.DirectionIncoming,
		OfferSDP:  "v=0 remote-offer",
		OfferType: "offer",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallRinging, c.State())

	waitFor(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.answers) == 1
	}, "answer not sent for pre-supplied offer")

	conn := engine.conn(t, 0)
	conn.mu.Lock()
	remotes := len(conn.remotes)
	conn.mu.Unlock()
	assert.Equal(t, 1, remotes)

	conn.obs.OnConnectionState(domain.ConnConnected)
	waitFor(t, func() bool { return c.State() == domain.CallActive }, "call never became active")
}

func TestCoordinator_IncomingOfferArrivesViaDispatcher(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := &stubEngine{}
	c := newTestCoordinator(t, dispatcher, engine, allowAllPermissions{}, CallConfig{
		OfferWait:    200 * time.Millisecond,
		AbandonGrace: 100 * time.Millisecond,
	})

	require.NoError(t, c.Start(context.Background(), domain.CallParams{
		Kind: domain.CallKindAudio, Peer: "bob", Direction: domain.DirectionIncoming,
	}))

	dispatcher.HandleInbound(domain.CallSignal{
		Type: domain.SignalOffer, From: "bob", To: "alice",
		Description: &domain.SessionDescription{Type: "offer", SDP: "v=0 late-offer"},
	})

	waitFor(t, func() bool {
		dispatcher.mu.Lock()
		defer dispatcher.mu.Unlock()
		return len(dispatcher.answers) == 1
	}, "answer not sent for channel offer")

	// The offer arrived in time, so the abandon timers must not fire.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, domain.CallRinging, c.State())
	assert.Zero(t, dispatcher.endCount())
}

func TestCoordinator_IncomingWithoutOfferAbandonedAfterGrace(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := &stubEngine{}
	c := newTestCoordinator(t, dispatcher, engine, allowAllPermissions{}, CallConfig{
		OfferWait:    50 * time.Millisecond,
		AbandonGrace: 30 * time.Millisecond,
	})

	require.NoError(t, c.Start(context.Background(), domain.CallParams{
		Kind: domain.CallKindAudio, Peer: "bob", Direction: domain.DirectionIncoming,
	}))
	assert.Equal(t, domain.CallRinging, c.State())

	// Still ringing within the offer wait.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, domain.CallRinging, c.State())

	waitFor(t, func() bool { return c.State() == domain.CallEnded }, "call not abandoned")
	assert.Equal(t, 1, dispatcher.endCount())
	assert.Equal(t, 1, dispatcher.clearCount())

	// Teardown ran exactly once even if End races the timers.
	assert.ErrorIs(t, c.End(context.Background()), domain.ErrNoActiveCall)
	assert.Equal(t, 1, dispatcher.endCount())
}

func TestCoordinator_RemoteEndFinishesCall(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := &stubEngine{}
	c := newTestCoordinator(t, dispatcher, engine, allowAllPermissions{}, CallConfig{})

	require.NoError(t, c.Start(context.Background(), domain.CallParams{
		Kind: domain.CallKindAudio, Peer: "bob", Direction: domain.DirectionOutgoing,
	}))

	dispatcher.HandleInbound(domain.CallSignal{Type: domain.SignalEnd, From: "bob", To: "alice"})

	assert.Equal(t, domain.CallEnded, c.State())
	// Remote already hung up; no END echo goes back.
	assert.Zero(t, dispatcher.endCount())
	assert.Equal(t, 1, dispatcher.clearCount())
}

func TestCoordinator_EngineFailureEndsCall(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := &stubEngine{}
	c := newTestCoordinator(t, dispatcher, engine, allowAllPermissions{}, CallConfig{})

	require.NoError(t, c.Start(context.Background(), domain.CallParams{
		Kind: domain.CallKindAudio, Peer: "bob", Direction: domain.DirectionOutgoing,
	}))
	conn := engine.conn(t, 0)
	conn.obs.OnConnectionState(domain.ConnConnected)
	waitFor(t, func() bool { return c.State() == domain.CallActive }, "call never became active")

	conn.obs.OnConnectionState(domain.ConnFailed)
	waitFor(t, func() bool { return c.State() == domain.CallEnded }, "failure did not end call")
	assert.Equal(t, 1, dispatcher.endCount())
}

func TestCoordinator_DeclineSendsReject(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	engine := &stubEngine{}
	c := newTestCoordinator(t, dispatcher, engine, allowAllPermissions{}, CallConfig{})

	require.NoError(t, c.Start(context.Background(), domain.CallParams{
		Kind:      domain.CallKindAudio,
		Peer:      "bob",
		Direction: domain.DirectionIncoming,
		OfferSDP:  "v=0 remote-offer",
		OfferType: "offer",
	}))
	require.NoError(t, c.Decline(context.Background(), "busy"))

	dispatcher.mu.Lock()
	rejects := append([]string(nil), dispatcher.rejects...)
	dispatcher.mu.Unlock()
	require.Len(t, rejects, 1)
	assert.Equal(t, "busy", rejects[0])
	assert.Equal(t, domain.CallEnded, c.State())
}

func TestCoordinator_AcceptOnlyWhileRinging(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	c := newTestCoordinator(t, dispatcher, &stubEngine{}, allowAllPermissions{}, CallConfig{})

	err := c.Accept(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoActiveCall)
	assert.True(t, errors.Is(err, domain.ErrNoActiveCall))
}
