package webrtc

import (
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// QualityMonitor reads RTCP receiver reports and remote-track RTP off a live
// call and feeds loss/jitter/RTT and activity into the metrics collector.
type QualityMonitor struct {
	metrics *monitoring.Collector
	logger  *zap.SugaredLogger
}

func NewQualityMonitor(metrics *monitoring.Collector, logger *zap.SugaredLogger) *QualityMonitor {
	return &QualityMonitor{metrics: metrics, logger: logger}
}

// Watch starts the read loops for one remote track. They run until the track
// or receiver errors out, which happens naturally at call teardown.
func (m *QualityMonitor) Watch(t ports.RemoteTrack) {
	pt, ok := t.(*pionRemoteTrack)
	if !ok {
		// Fake engines in tests deliver non-pion tracks; nothing to read.
		return
	}
	go m.readRTCP(pt)
	go m.readRTP(pt)
}

func (m *QualityMonitor) readRTCP(t *pionRemoteTrack) {
	for {
		packets, _, err := t.Receiver().ReadRTCP()
		if err != nil {
			m.logger.Debugw("rtcp read ended", "error", err)
			return
		}
		m.processPackets(packets)
	}
}

func (m *QualityMonitor) processPackets(packets []rtcp.Packet) {
	var totalLoss uint8
	var totalJitter uint32
	var totalRTT time.Duration
	count := 0

	for _, packet := range packets {
		rr, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			totalLoss += report.FractionLost
			totalJitter += report.Jitter
			count++
			if report.LastSenderReport != 0 && report.Delay != 0 {
				totalRTT += time.Duration(report.Delay) * time.Second / 65536
			}
		}
	}

	if count == 0 {
		return
	}
	loss := float64(totalLoss) / float64(count) / 255.0
	jitter := time.Duration(totalJitter/uint32(count)) * time.Millisecond
	rtt := totalRTT / time.Duration(count)
	m.metrics.CallQuality(loss, jitter, rtt)
	m.logger.Debugw("call quality sample", "packet_loss", loss, "jitter", jitter, "rtt", rtt)
}

func (m *QualityMonitor) readRTP(t *pionRemoteTrack) {
	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}
	var packets uint64

	for {
		n, _, err := t.Track().Read(buf)
		if err != nil {
			m.logger.Debugw("remote track read ended", "error", err, "packets", packets)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		packets++
		if packets%500 == 0 {
			m.logger.Debugw("remote audio active",
				"track_id", t.ID(),
				"packets", packets,
				"sequence", pkt.SequenceNumber,
			)
		}
	}
}
