package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PionEngine adapts pion/webrtc to the MediaEngine capability set.
type PionEngine struct {
	logger *zap.SugaredLogger

	mu  sync.Mutex
	api *webrtc.API
}

func NewPionEngine(logger *zap.SugaredLogger) *PionEngine {
	return &PionEngine{logger: logger}
}

func (e *PionEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.api != nil {
		return nil
	}
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}
	settings := webrtc.SettingEngine{}
	e.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithSettingEngine(settings),
	)
	return nil
}

func (e *PionEngine) Release() {
	e.mu.Lock()
	e.api = nil
	e.mu.Unlock()
}

func (e *PionEngine) NewConnection(servers []ports.ICEServer, obs ports.ConnectionObserver) (ports.PeerConnection, error) {
	e.mu.Lock()
	api := e.api
	e.mu.Unlock()
	if api == nil {
		return nil, domain.ErrEngineNotReady
	}

	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:    iceServers,
		BundlePolicy:  webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy: webrtc.RTCPMuxPolicyRequire,
		SDPSemantics:  webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, err
	}

	// Audio-receive only; no video transceiver is ever added.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	if obs.OnSignalingState != nil {
		pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
			obs.OnSignalingState(s.String())
		})
	}
	if obs.OnICEConnectionState != nil {
		pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
			obs.OnICEConnectionState(s.String())
		})
	}
	if obs.OnICEGatheringState != nil {
		pc.OnICEGatheringStateChange(func(s webrtc.ICEGathererState) {
			obs.OnICEGatheringState(s.String())
		})
	}
	if obs.OnICECandidate != nil {
		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			init := c.ToJSON()
			obs.OnICECandidate(domain.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		})
	}
	if obs.OnTrack != nil {
		pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
			obs.OnTrack(&pionRemoteTrack{track: track, receiver: receiver})
		})
	}
	if obs.OnConnectionState != nil {
		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			obs.OnConnectionState(mapConnState(s))
		})
	}
	if obs.OnNegotiationNeeded != nil {
		pc.OnNegotiationNeeded(obs.OnNegotiationNeeded)
	}

	return &pionConnection{pc: pc}, nil
}

func (e *PionEngine) NewAudioTrack(constraints ports.AudioConstraints) (ports.AudioTrack, error) {
	// The processing toggles (echo cancellation, gain, noise suppression,
	// high-pass) belong to the capture pipeline, which sits behind this
	// adapter on platforms that have one. The RTP track itself is plain opus.
	e.logger.Debugw("audio constraints",
		"echo_cancellation", constraints.EchoCancellation,
		"auto_gain", constraints.AutoGainControl,
		"noise_suppression", constraints.NoiseSuppression,
		"high_pass", constraints.HighPassFilter,
	)
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"messenger-audio",
	)
	if err != nil {
		return nil, err
	}
	return &pionAudioTrack{track: track}, nil
}

func mapConnState(s webrtc.PeerConnectionState) domain.ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnFailed
	default:
		return domain.ConnClosed
	}
}

func toPion(desc domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
}

func fromPion(desc webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (p *pionConnection) CreateOffer() (domain.SessionDescription, error) {
	desc, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(desc), nil
}

func (p *pionConnection) CreateAnswer() (domain.SessionDescription, error) {
	desc, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(desc), nil
}

func (p *pionConnection) SetLocalDescription(desc domain.SessionDescription) error {
	return p.pc.SetLocalDescription(toPion(desc))
}

func (p *pionConnection) SetRemoteDescription(desc domain.SessionDescription) error {
	return p.pc.SetRemoteDescription(toPion(desc))
}

func (p *pionConnection) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (p *pionConnection) AttachTrack(t ports.AudioTrack) error {
	at, ok := t.(*pionAudioTrack)
	if !ok {
		return fmt.Errorf("foreign audio track %T", t)
	}
	_, err := p.pc.AddTrack(at.track)
	return err
}

func (p *pionConnection) AttachLegacyStream(t ports.AudioTrack) error {
	at, ok := t.(*pionAudioTrack)
	if !ok {
		return fmt.Errorf("foreign audio track %T", t)
	}
	_, err := p.pc.AddTransceiverFromTrack(at.track)
	return err
}

func (p *pionConnection) Close() error {
	return p.pc.Close()
}

type pionAudioTrack struct {
	track *webrtc.TrackLocalStaticRTP
}

func (t *pionAudioTrack) ID() string { return t.track.ID() }
func (t *pionAudioTrack) Stop()      {}

type pionRemoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t *pionRemoteTrack) ID() string   { return t.track.ID() }
func (t *pionRemoteTrack) Kind() string { return t.track.Kind().String() }

// Track and Receiver expose the underlying pion objects to the quality
// monitor, which reads RTP/RTCP off them.
func (t *pionRemoteTrack) Track() *webrtc.TrackRemote    { return t.track }
func (t *pionRemoteTrack) Receiver() *webrtc.RTPReceiver { return t.receiver }
