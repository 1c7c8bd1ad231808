package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates client-side metrics: channel traffic, call lifecycle
// and reconciler decisions. A nil *Collector is valid and records nothing,
// which keeps unit tests free of registry bookkeeping.
type Collector struct {
	registry *prometheus.Registry

	channelConnected prometheus.Gauge
	framesSent       *prometheus.CounterVec
	framesReceived   *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	signalsDropped   *prometheus.CounterVec

	callsStarted *prometheus.CounterVec
	callsEnded   *prometheus.CounterVec
	callDuration prometheus.Histogram

	callPacketLoss prometheus.Gauge
	callJitter     prometheus.Gauge
	callRTT        prometheus.Gauge

	reconcilerOutcomes *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		channelConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_channel_connected",
			Help: "Whether the signal channel transport is currently open (0/1)",
		}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_frames_sent_total",
			Help: "Outbound frames by kind",
		}, []string{"kind"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_frames_received_total",
			Help: "Inbound frames by kind",
		}, []string{"kind"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_frames_dropped_total",
			Help: "Frames dropped by reason",
		}, []string{"reason"}),
		signalsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_call_signals_dropped_total",
			Help: "Call signals dropped by reason",
		}, []string{"reason"}),

		callsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_calls_started_total",
			Help: "Calls started by direction",
		}, []string{"direction"}),
		callsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_calls_ended_total",
			Help: "Calls ended by reason",
		}, []string{"reason"}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "messenger_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		callPacketLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_call_packet_loss_ratio",
			Help: "Packet loss ratio reported by RTCP receiver reports (0-1)",
		}),
		callJitter: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_call_jitter_seconds",
			Help: "Jitter reported by RTCP receiver reports",
		}),
		callRTT: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_call_rtt_seconds",
			Help: "Round-trip time estimated from RTCP receiver reports",
		}),

		reconcilerOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_reconciler_outcomes_total",
			Help: "Message reconciliation outcomes (appended/replaced/deduped)",
		}, []string{"outcome"}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.registry
}

func (c *Collector) ChannelConnected(up bool) {
	if c == nil {
		return
	}
	if up {
		c.channelConnected.Set(1)
	} else {
		c.channelConnected.Set(0)
	}
}

func (c *Collector) FrameSent(kind string) {
	if c == nil {
		return
	}
	c.framesSent.WithLabelValues(kind).Inc()
}

func (c *Collector) FrameReceived(kind string) {
	if c == nil {
		return
	}
	c.framesReceived.WithLabelValues(kind).Inc()
}

func (c *Collector) FrameDropped(reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) SignalDropped(reason string) {
	if c == nil {
		return
	}
	c.signalsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) CallStarted(direction string) {
	if c == nil {
		return
	}
	c.callsStarted.WithLabelValues(direction).Inc()
}

func (c *Collector) CallEnded(reason string, duration time.Duration) {
	if c == nil {
		return
	}
	c.callsEnded.WithLabelValues(reason).Inc()
	if duration > 0 {
		c.callDuration.Observe(duration.Seconds())
	}
}

func (c *Collector) CallQuality(packetLoss float64, jitter, rtt time.Duration) {
	if c == nil {
		return
	}
	c.callPacketLoss.Set(packetLoss)
	c.callJitter.Set(jitter.Seconds())
	c.callRTT.Set(rtt.Seconds())
}

func (c *Collector) ReconcilerOutcome(outcome string) {
	if c == nil {
		return
	}
	c.reconcilerOutcomes.WithLabelValues(outcome).Inc()
}
