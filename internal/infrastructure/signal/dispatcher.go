package signal

import (
	"sync"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// Dispatcher serializes outbound call-control signals and routes inbound ones
// to the call-scoped listener. The listener lives only as long as one call;
// clearing it on call end keeps stray signals out of the next call.
type Dispatcher struct {
	channel ports.SignalChannel
	local   domain.Username
	metrics *monitoring.Collector
	logger  *zap.SugaredLogger

	mu           sync.Mutex
	expectedPeer domain.Username
	listener     ports.SignalListener
}

func NewDispatcher(channel ports.SignalChannel, local domain.Username, metrics *monitoring.Collector, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		channel: channel,
		local:   local,
		metrics: metrics,
		logger:  logger,
	}
}

func (d *Dispatcher) SetListener(expectedPeer domain.Username, l ports.SignalListener) {
	d.mu.Lock()
	d.expectedPeer = expectedPeer
	d.listener = l
	d.mu.Unlock()
}

func (d *Dispatcher) ClearListener() {
	d.mu.Lock()
	d.expectedPeer = ""
	d.listener = nil
	d.mu.Unlock()
}

// HandleInbound is registered as the channel's signal listener for the life
// of the process.
func (d *Dispatcher) HandleInbound(sig domain.CallSignal) {
	d.mu.Lock()
	expected := d.expectedPeer
	listener := d.listener
	d.mu.Unlock()

	if listener == nil {
		d.logger.Debugw("call signal with no active call", "type", sig.Type, "from", sig.From)
		d.metrics.SignalDropped("no_listener")
		return
	}
	if sig.From != expected {
		d.logger.Warnw("call signal from unexpected peer dropped",
			"type", sig.Type,
			"from", sig.From,
			"expected", expected,
		)
		d.metrics.SignalDropped("peer_mismatch")
		return
	}
	switch sig.Type {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate, domain.SignalEnd, domain.SignalReject:
		listener(sig)
	default:
		d.logger.Warnw("unknown call signal type dropped", "type", sig.Type, "from", sig.From)
		d.metrics.SignalDropped("unknown_type")
	}
}

func (d *Dispatcher) SendOffer(to domain.Username, desc domain.SessionDescription) error {
	return d.send(domain.CallSignal{
		Type:        domain.SignalOffer,
		From:        d.local,
		To:          to,
		Description: &desc,
	})
}

func (d *Dispatcher) SendAnswer(to domain.Username, desc domain.SessionDescription) error {
	return d.send(domain.CallSignal{
		Type:        domain.SignalAnswer,
		From:        d.local,
		To:          to,
		Description: &desc,
	})
}

func (d *Dispatcher) SendCandidate(to domain.Username, c domain.ICECandidate) error {
	return d.send(domain.CallSignal{
		Type:      domain.SignalICECandidate,
		From:      d.local,
		To:        to,
		Candidate: &c,
	})
}

func (d *Dispatcher) SendEnd(to domain.Username) error {
	return d.send(domain.CallSignal{Type: domain.SignalEnd, From: d.local, To: to})
}

func (d *Dispatcher) SendReject(to domain.Username, reason string) error {
	return d.send(domain.CallSignal{Type: domain.SignalReject, From: d.local, To: to, Reason: reason})
}

func (d *Dispatcher) send(sig domain.CallSignal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if !d.channel.SendSignal(sig) {
		return domain.ErrNotConnected
	}
	d.logger.Debugw("call signal sent", "type", sig.Type, "to", sig.To)
	return nil
}
