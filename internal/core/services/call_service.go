package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/webrtc"

	"go.uber.org/zap"
)

// CallConfig bounds the call session's timing behavior.
type CallConfig struct {
	ICEServers []ports.ICEServer
	Audio      ports.AudioConstraints
	// OfferWait bounds how long an incoming call without a pre-supplied
	// offer waits for one to arrive over the channel.
	OfferWait time.Duration
	// AbandonGrace is the additional delay between the offer wait expiring
	// and the final teardown.
	AbandonGrace time.Duration
	InitTimeout  time.Duration
}

func (c *CallConfig) applyDefaults() {
	if c.OfferWait <= 0 {
		c.OfferWait = 5 * time.Second
	}
	if c.AbandonGrace <= 0 {
		c.AbandonGrace = 2 * time.Second
	}
}

// CallCoordinator drives one call session at a time through
// IDLE → DIALING/RINGING → ACTIVE → ENDED. It owns the peer connection
// controller for the duration of the call and holds the dispatcher's
// call-scoped signal listener between Start and teardown.
type CallCoordinator struct {
	auth        ports.AuthService
	dispatcher  ports.CallSignalDispatcher
	engine      ports.MediaEngine
	permissions ports.PermissionChecker
	quality     *webrtc.QualityMonitor
	metrics     *monitoring.Collector
	logger      *zap.SugaredLogger
	cfg         CallConfig

	mu           sync.Mutex
	state        domain.CallState
	params       domain.CallParams
	controller   *webrtc.Controller
	finishing    bool
	offerApplied bool
	startedAt    time.Time
	status       string
	offerTimer   *time.Timer
	graceTimer   *time.Timer
}

func NewCallCoordinator(
	auth ports.AuthService,
	dispatcher ports.CallSignalDispatcher,
	engine ports.MediaEngine,
	permissions ports.PermissionChecker,
	quality *webrtc.QualityMonitor,
	metrics *monitoring.Collector,
	cfg CallConfig,
	logger *zap.SugaredLogger,
) *CallCoordinator {
	cfg.applyDefaults()
	return &CallCoordinator{
		auth:        auth,
		dispatcher:  dispatcher,
		engine:      engine,
		permissions: permissions,
		quality:     quality,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		state:       domain.CallIdle,
	}
}

// Start launches a call session from the given launch parameters. Only one
// session may run at a time.
func (s *CallCoordinator) Start(ctx context.Context, params domain.CallParams) error {
	if err := s.permissions.CheckMedia(ctx, params.Kind); err != nil {
		return fmt.Errorf("media permission: %w", err)
	}

	s.mu.Lock()
	if s.state != domain.CallIdle && s.state != domain.CallEnded {
		s.mu.Unlock()
		return domain.ErrCallInProgress
	}
	s.params = params
	s.finishing = false
	s.offerApplied = false
	s.startedAt = time.Now()
	if params.Direction == domain.DirectionOutgoing {
		s.state = domain.CallDialing
		s.status = "dialing"
	} else {
		s.state = domain.CallRinging
		s.status = "ringing"
	}

	ctrl := webrtc.NewController(s.engine, webrtc.ControllerConfig{
		ICEServers:  s.cfg.ICEServers,
		Audio:       s.cfg.Audio,
		InitTimeout: s.cfg.InitTimeout,
		LocalUser:   s.auth.Current().Username,
		RemotePeer:  params.Peer,
	}, webrtc.Events{
		OnLocalDescription: func(desc domain.SessionDescription) { s.sendLocalDescription(params.Peer, desc) },
		OnLocalCandidate: func(c domain.ICECandidate) {
			if err := s.dispatcher.SendCandidate(params.Peer, c); err != nil {
				s.logger.Warnw("failed to send candidate", "peer", params.Peer, "error", err)
			}
		},
		OnConnectionState: s.handleConnectionState,
		OnRemoteTrack:     s.quality.Watch,
	}, s.logger)
	s.controller = ctrl
	s.mu.Unlock()

	s.dispatcher.SetListener(params.Peer, s.handleSignal)
	s.metrics.CallStarted(string(params.Direction))
	s.logger.Infow("call session started",
		"peer", params.Peer, "direction", params.Direction, "kind", params.Kind)

	if err := ctrl.Initialize(ctx); err != nil {
		s.finish("init_failed", false)
		return err
	}

	if params.Direction == domain.DirectionOutgoing {
		return s.startOutgoing(ctx, ctrl)
	}
	return s.startIncoming(ctx, ctrl, params)
}

func (s *CallCoordinator) startOutgoing(ctx context.Context, ctrl *webrtc.Controller) error {
	if err := ctrl.CreateConnection(ctx); err != nil {
		s.finish("setup_failed", false)
		return err
	}
	if err := ctrl.CreateLocalAudioTrack(ctx); err != nil {
		s.finish("setup_failed", false)
		return err
	}
	if err := ctrl.CreateOffer(ctx); err != nil {
		s.finish("setup_failed", false)
		return err
	}
	return nil
}

func (s *CallCoordinator) startIncoming(ctx context.Context, ctrl *webrtc.Controller, params domain.CallParams) error {
	if params.OfferSDP != "" {
		s.mu.Lock()
		s.offerApplied = true
		s.mu.Unlock()
		desc := domain.SessionDescription{Type: params.OfferType, SDP: params.OfferSDP}
		if err := ctrl.SetRemoteDescription(ctx, desc); err != nil {
			s.finish("setup_failed", false)
			return err
		}
		return nil
	}

	// No offer in the launch parameters: wait a bounded time for one over
	// the channel, then abandon after a short grace so a signal that never
	// arrives cannot strand the session.
	s.mu.Lock()
	s.offerTimer = time.AfterFunc(s.cfg.OfferWait, func() {
		s.mu.Lock()
		applied := s.offerApplied
		if !applied {
			s.graceTimer = time.AfterFunc(s.cfg.AbandonGrace, func() {
				s.finish("offer_timeout", true)
			})
		}
		s.mu.Unlock()
		if !applied {
			s.logger.Warnw("no offer within wait, abandoning call",
				"peer", params.Peer, "wait", s.cfg.OfferWait)
		}
	})
	s.mu.Unlock()
	return nil
}

// Accept applies to RINGING only. The connection is created eagerly if the
// offer has not forced it into existence already.
func (s *CallCoordinator) Accept(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.CallRinging {
		s.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	ctrl := s.controller
	s.status = "connecting"
	s.mu.Unlock()

	if err := ctrl.CreateConnection(ctx); err != nil {
		return err
	}
	return ctrl.CreateLocalAudioTrack(ctx)
}

// Decline rejects an incoming call with a reason and tears everything down.
func (s *CallCoordinator) Decline(ctx context.Context, reason string) error {
	s.mu.Lock()
	peer := s.params.Peer
	active := s.state != domain.CallIdle && s.state != domain.CallEnded
	s.mu.Unlock()
	if !active {
		return domain.ErrNoActiveCall
	}
	if err := s.dispatcher.SendReject(peer, reason); err != nil {
		s.logger.Warnw("failed to send reject", "peer", peer, "error", err)
	}
	s.finish("declined", false)
	return nil
}

// End hangs up: sends END to the peer, then tears down unconditionally.
func (s *CallCoordinator) End(ctx context.Context) error {
	s.mu.Lock()
	peer := s.params.Peer
	active := s.state != domain.CallIdle && s.state != domain.CallEnded
	s.mu.Unlock()
	if !active {
		return domain.ErrNoActiveCall
	}
	if err := s.dispatcher.SendEnd(peer); err != nil {
		s.logger.Warnw("failed to send end", "peer", peer, "error", err)
	}
	s.finish("local_end", false)
	return nil
}

func (s *CallCoordinator) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CallCoordinator) Peer() domain.Username {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Peer
}

// Status is the human-readable connection status for the call screen.
func (s *CallCoordinator) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *CallCoordinator) sendLocalDescription(peer domain.Username, desc domain.SessionDescription) {
	var err error
	switch desc.Type {
	case "offer":
		err = s.dispatcher.SendOffer(peer, desc)
	case "answer":
		err = s.dispatcher.SendAnswer(peer, desc)
	default:
		err = fmt.Errorf("%w: local description type %q", domain.ErrInvalidSignal, desc.Type)
	}
	if err != nil {
		s.logger.Errorw("failed to send local description",
			"peer", peer, "type", desc.Type, "error", err)
		s.finish("signal_failed", false)
	}
}

// handleSignal receives already peer-filtered signals from the dispatcher.
func (s *CallCoordinator) handleSignal(sig domain.CallSignal) {
	s.mu.Lock()
	ctrl := s.controller
	if ctrl == nil || s.finishing {
		s.mu.Unlock()
		return
	}
	if sig.Type == domain.SignalOffer {
		s.offerApplied = true
		s.stopTimersLocked()
	}
	s.mu.Unlock()

	ctx := context.Background()
	switch sig.Type {
	case domain.SignalOffer, domain.SignalAnswer:
		if err := ctrl.SetRemoteDescription(ctx, *sig.Description); err != nil {
			s.logger.Errorw("failed to apply remote description",
				"type", sig.Type, "from", sig.From, "error", err)
			s.finish("negotiation_failed", true)
		}
	case domain.SignalICECandidate:
		ctrl.AddICECandidate(*sig.Candidate)
	case domain.SignalEnd:
		s.logger.Infow("peer ended the call", "peer", sig.From)
		s.finish("remote_end", false)
	case domain.SignalReject:
		s.logger.Infow("peer rejected the call", "peer", sig.From, "reason", sig.Reason)
		s.finish("remote_reject", false)
	}
}

func (s *CallCoordinator) handleConnectionState(state domain.ConnState) {
	s.mu.Lock()
	if s.finishing {
		s.mu.Unlock()
		return
	}
	switch state {
	case domain.ConnConnecting:
		s.status = "connecting"
	case domain.ConnConnected:
		s.state = domain.CallActive
		s.status = "connected"
	case domain.ConnDisconnected, domain.ConnFailed:
		s.status = string(state)
	}
	s.mu.Unlock()

	s.logger.Infow("call connection state", "state", state)
	if state == domain.ConnDisconnected || state == domain.ConnFailed {
		s.finish(string(state), true)
	}
}

// finish is the single teardown path. Every reason a call can end (user
// action, remote END/REJECT, engine failure, offer timeout) funnels through
// here, and the finishing guard collapses them into exactly one cleanup.
func (s *CallCoordinator) finish(reason string, notifyPeer bool) {
	s.mu.Lock()
	if s.finishing {
		s.mu.Unlock()
		return
	}
	s.finishing = true
	s.state = domain.CallEnded
	s.status = "ended"
	s.stopTimersLocked()
	ctrl := s.controller
	s.controller = nil
	peer := s.params.Peer
	started := s.startedAt
	s.mu.Unlock()

	if notifyPeer {
		if err := s.dispatcher.SendEnd(peer); err != nil {
			s.logger.Debugw("end signal not delivered", "peer", peer, "error", err)
		}
	}
	s.dispatcher.ClearListener()
	if ctrl != nil {
		ctrl.Close()
	}
	s.metrics.CallEnded(reason, time.Since(started))
	s.logger.Infow("call session finished", "peer", peer, "reason", reason,
		"duration", time.Since(started))
}

func (s *CallCoordinator) stopTimersLocked() {
	if s.offerTimer != nil {
		s.offerTimer.Stop()
		s.offerTimer = nil
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}
