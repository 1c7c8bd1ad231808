package ports

import (
	"context"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
)

// ICEServer is one relay/stun endpoint in ordered preference. Any subset may
// be unreachable; the engine treats the list as hints, not requirements.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// AudioConstraints are the capture-side processing toggles requested for the
// local audio source.
type AudioConstraints struct {
	EchoCancellation bool
	AutoGainControl  bool
	NoiseSuppression bool
	HighPassFilter   bool
}

// ConnectionObserver carries the engine callbacks a connection is created
// with. Callbacks arrive on engine-owned goroutines; callers must re-dispatch
// before touching shared state.
type ConnectionObserver struct {
	OnSignalingState     func(state string)
	OnICEConnectionState func(state string)
	OnICEGatheringState  func(state string)
	OnICECandidate       func(c domain.ICECandidate)
	OnTrack              func(t RemoteTrack)
	OnConnectionState    func(state domain.ConnState)
	OnNegotiationNeeded  func()
}

// AudioTrack is a local audio source/track pair owned by one call.
type AudioTrack interface {
	ID() string
	Stop()
}

// RemoteTrack is an inbound media track reported by the engine.
type RemoteTrack interface {
	ID() string
	Kind() string
}

// PeerConnection is the capability set the core needs from one peer-to-peer
// media connection. The engine's internal audio pipeline is out of scope.
type PeerConnection interface {
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error

	// AttachTrack uses the modern track-based API; AttachLegacyStream is the
	// stream-based fallback used when track attachment fails.
	AttachTrack(t AudioTrack) error
	AttachLegacyStream(t AudioTrack) error

	Close() error
}

// MediaEngine creates connections and local media. Initialize is heavyweight
// and asynchronous on some platforms; it must complete before NewConnection.
type MediaEngine interface {
	Initialize(ctx context.Context) error
	NewConnection(servers []ICEServer, obs ConnectionObserver) (PeerConnection, error)
	NewAudioTrack(constraints AudioConstraints) (AudioTrack, error)
	Release()
}
