package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"

	"go.uber.org/zap"
)

// ControllerState is the lifecycle of one peer connection session.
type ControllerState string

const (
	StateUninitialized ControllerState = "uninitialized"
	StateInitializing  ControllerState = "initializing"
	StateReady         ControllerState = "ready"
	StateNegotiating   ControllerState = "negotiating"
	StateConnected     ControllerState = "connected"
	StateFailed        ControllerState = "failed"
	StateClosed        ControllerState = "closed"
)

// ControllerConfig configures one call's media session.
type ControllerConfig struct {
	ICEServers  []ports.ICEServer
	Audio       ports.AudioConstraints
	InitTimeout time.Duration
	// LocalUser and RemotePeer decide the deterministic glare tie-break:
	// when both sides have an offer in flight, the lexicographically smaller
	// username keeps the offerer role.
	LocalUser  domain.Username
	RemotePeer domain.Username
}

// Events are the controller's outbound callbacks. They fire on the worker
// goroutine; handlers must not call back into the controller synchronously
// with a blocking wait.
type Events struct {
	// OnLocalDescription fires after a created offer or answer has been
	// applied as the local description, ready for transmission.
	OnLocalDescription func(desc domain.SessionDescription)
	OnLocalCandidate   func(c domain.ICECandidate)
	OnConnectionState  func(state domain.ConnState)
	OnRemoteTrack      func(t ports.RemoteTrack)
}

// Controller owns the lifecycle of one peer-to-peer media session. All engine
// mutation runs on a single worker goroutine: API calls and engine callbacks
// are posted as tasks into one ordered queue, so creation, negotiation and
// teardown never interleave.
type Controller struct {
	engine ports.MediaEngine
	cfg    ControllerConfig
	events Events
	logger *zap.SugaredLogger

	tasks  chan func()
	closed chan struct{}
	stop   sync.Once

	// Worker-owned. Never touched off the worker goroutine.
	conn              ports.PeerConnection
	track             ports.AudioTrack
	pendingCandidates []domain.ICECandidate
	offerInFlight     bool
	answered          bool

	state atomic.Value // ControllerState, written by worker only
}

func NewController(engine ports.MediaEngine, cfg ControllerConfig, events Events, logger *zap.SugaredLogger) *Controller {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 3 * time.Second
	}
	c := &Controller{
		engine: engine,
		cfg:    cfg,
		events: events,
		logger: logger,
		tasks:  make(chan func(), 64),
		closed: make(chan struct{}),
	}
	c.state.Store(StateUninitialized)
	go c.run()
	return c
}

func (c *Controller) run() {
	for {
		select {
		case task := <-c.tasks:
			task()
		case <-c.closed:
			// Drain whatever was queued before the stop so teardown tasks
			// still execute.
			for {
				select {
				case task := <-c.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) State() ControllerState {
	return c.state.Load().(ControllerState)
}

func (c *Controller) setState(s ControllerState) {
	c.state.Store(s)
}

// submit queues a fire-and-forget task.
func (c *Controller) submit(task func()) {
	select {
	case c.tasks <- task:
	case <-c.closed:
	}
}

// submitWait queues a task and blocks until it ran or ctx expired.
func (c *Controller) submitWait(ctx context.Context, task func() error) error {
	done := make(chan error, 1)
	select {
	case c.tasks <- func() { done <- task() }:
	case <-c.closed:
		return domain.ErrNoConnection
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialize brings the engine up, bounded by the configured timeout.
// Concurrent callers serialize on the worker and observe the same result
// instead of re-initializing.
func (c *Controller) Initialize(ctx context.Context) error {
	return c.submitWait(ctx, func() error {
		switch c.State() {
		case StateReady, StateNegotiating, StateConnected:
			return nil
		case StateClosed:
			return domain.ErrNoConnection
		}
		c.setState(StateInitializing)

		initCtx, cancel := context.WithTimeout(context.Background(), c.cfg.InitTimeout)
		defer cancel()
		errCh := make(chan error, 1)
		go func() { errCh <- c.engine.Initialize(initCtx) }()

		select {
		case err := <-errCh:
			if err != nil {
				c.setState(StateUninitialized)
				return fmt.Errorf("engine initialize: %w", err)
			}
		case <-initCtx.Done():
			c.setState(StateUninitialized)
			return fmt.Errorf("%w: initialize timed out after %s", domain.ErrEngineNotReady, c.cfg.InitTimeout)
		}

		c.setState(StateReady)
		c.logger.Debugw("media engine ready")
		return nil
	})
}

// CreateConnection builds the peer connection. Requires READY.
func (c *Controller) CreateConnection(ctx context.Context) error {
	return c.submitWait(ctx, func() error {
		if c.conn != nil {
			return nil
		}
		if c.State() != StateReady {
			return domain.ErrEngineNotReady
		}
		return c.createConnectionOnWorker()
	})
}

// createConnectionOnWorker runs on the worker only. Engine callbacks are
// re-posted onto the worker before touching shared state.
func (c *Controller) createConnectionOnWorker() error {
	obs := ports.ConnectionObserver{
		OnSignalingState: func(state string) {
			c.submit(func() { c.logger.Debugw("signaling state", "state", state) })
		},
		OnICEConnectionState: func(state string) {
			c.submit(func() { c.logger.Debugw("ice connection state", "state", state) })
		},
		OnICEGatheringState: func(state string) {
			c.submit(func() { c.logger.Debugw("ice gathering state", "state", state) })
		},
		OnICECandidate: func(cand domain.ICECandidate) {
			c.submit(func() {
				if c.events.OnLocalCandidate != nil {
					c.events.OnLocalCandidate(cand)
				}
			})
		},
		OnTrack: func(t ports.RemoteTrack) {
			c.submit(func() {
				c.logger.Infow("remote track", "id", t.ID(), "kind", t.Kind())
				if c.events.OnRemoteTrack != nil {
					c.events.OnRemoteTrack(t)
				}
			})
		},
		OnConnectionState: func(state domain.ConnState) {
			c.submit(func() { c.handleConnectionState(state) })
		},
		OnNegotiationNeeded: func() {
			c.submit(func() { c.logger.Debugw("renegotiation needed") })
		},
	}

	conn, err := c.engine.NewConnection(c.cfg.ICEServers, obs)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c.conn = conn

	for _, cand := range c.pendingCandidates {
		if err := conn.AddICECandidate(cand); err != nil {
			c.logger.Warnw("buffered candidate rejected", "error", err)
		}
	}
	c.pendingCandidates = nil
	return nil
}

// CreateLocalAudioTrack captures the local audio source and attaches it,
// falling back to the legacy stream-based attachment when the track API
// fails.
func (c *Controller) CreateLocalAudioTrack(ctx context.Context) error {
	return c.submitWait(ctx, func() error {
		return c.createLocalAudioTrackOnWorker()
	})
}

func (c *Controller) createLocalAudioTrackOnWorker() error {
	if c.conn == nil {
		return domain.ErrNoConnection
	}
	if c.track != nil {
		return nil
	}
	track, err := c.engine.NewAudioTrack(c.cfg.Audio)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	if err := c.conn.AttachTrack(track); err != nil {
		c.logger.Warnw("track attach failed, using legacy stream", "error", err)
		if err := c.conn.AttachLegacyStream(track); err != nil {
			track.Stop()
			return fmt.Errorf("attach audio: %w", err)
		}
	}
	c.track = track
	return nil
}

// CreateOffer asks the engine for a local description and applies it
// immediately, then emits it for transmission.
func (c *Controller) CreateOffer(ctx context.Context) error {
	return c.submitWait(ctx, func() error {
		if c.conn == nil {
			return domain.ErrNoConnection
		}
		desc, err := c.conn.CreateOffer()
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := c.conn.SetLocalDescription(desc); err != nil {
			return fmt.Errorf("set local offer: %w", err)
		}
		c.offerInFlight = true
		c.setState(StateNegotiating)
		if c.events.OnLocalDescription != nil {
			c.events.OnLocalDescription(desc)
		}
		return nil
	})
}

// createAnswerOnWorker is only ever reached by reaction to an applied remote
// offer, never by an external caller.
func (c *Controller) createAnswerOnWorker() error {
	desc, err := c.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.conn.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	c.setState(StateNegotiating)
	if c.events.OnLocalDescription != nil {
		c.events.OnLocalDescription(desc)
	}
	return nil
}

// SetRemoteDescription applies the peer's description. On the incoming-call
// path the remote offer can arrive before anything local exists, so the
// connection and local audio track are created lazily here, exactly once.
// Applying an offer triggers exactly one answer.
func (c *Controller) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	return c.submitWait(ctx, func() error {
		if c.State() == StateClosed {
			return domain.ErrNoConnection
		}
		if c.conn == nil {
			if c.State() != StateReady {
				return domain.ErrEngineNotReady
			}
			if err := c.createConnectionOnWorker(); err != nil {
				return err
			}
			if err := c.createLocalAudioTrackOnWorker(); err != nil {
				return err
			}
		}

		isOffer := desc.Type == "offer"
		if isOffer && c.offerInFlight {
			// Glare: both sides offered. The smaller username keeps the
			// offerer role; the other side abandons its offer and answers.
			if c.cfg.LocalUser < c.cfg.RemotePeer {
				c.logger.Warnw("glare: ignoring remote offer, local offer wins",
					"local", c.cfg.LocalUser, "peer", c.cfg.RemotePeer)
				return nil
			}
			c.logger.Warnw("glare: abandoning local offer, answering remote",
				"local", c.cfg.LocalUser, "peer", c.cfg.RemotePeer)
			c.offerInFlight = false
		}

		if err := c.conn.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		c.setState(StateNegotiating)

		if isOffer {
			if c.answered {
				return nil
			}
			c.answered = true
			return c.createAnswerOnWorker()
		}
		c.offerInFlight = false
		return nil
	})
}

// AddICECandidate applies a remote candidate, buffering it when the
// connection does not exist yet and flushing the buffer on creation.
func (c *Controller) AddICECandidate(cand domain.ICECandidate) {
	c.submit(func() {
		if c.State() == StateClosed {
			return
		}
		if c.conn == nil {
			c.pendingCandidates = append(c.pendingCandidates, cand)
			return
		}
		if err := c.conn.AddICECandidate(cand); err != nil {
			c.logger.Warnw("remote candidate rejected", "error", err)
		}
	})
}

func (c *Controller) handleConnectionState(state domain.ConnState) {
	c.logger.Infow("peer connection state", "state", state)
	switch state {
	case domain.ConnConnected:
		c.setState(StateConnected)
	case domain.ConnFailed, domain.ConnDisconnected:
		if s := c.State(); s == StateNegotiating || s == StateConnected {
			c.setState(StateFailed)
		}
	}
	if c.events.OnConnectionState != nil {
		c.events.OnConnectionState(state)
	}
}

// Cleanup closes the connection and releases the audio resources. Safe to
// call any number of times; teardown is fire-and-forget onto the worker.
func (c *Controller) Cleanup() {
	c.submit(func() {
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				c.logger.Debugw("connection close", "error", err)
			}
			c.conn = nil
		}
		if c.track != nil {
			c.track.Stop()
			c.track = nil
		}
		c.pendingCandidates = nil
		c.setState(StateClosed)
	})
}

// Close cleans up and stops the worker. The controller is unusable after.
func (c *Controller) Close() {
	c.Cleanup()
	c.stop.Do(func() { close(c.closed) })
}
