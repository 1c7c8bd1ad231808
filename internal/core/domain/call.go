package domain

// CallKind distinguishes audio-only from audio+camera launch intents. Only
// audio calls are supported end to end; the kind still travels in launch
// parameters so the permission gate knows what to ask for.
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

type CallDirection string

const (
	DirectionIncoming CallDirection = "incoming"
	DirectionOutgoing CallDirection = "outgoing"
)

// CallState is the coordinator-visible call lifecycle.
type CallState string

const (
	CallIdle    CallState = "idle"
	CallDialing CallState = "dialing" // outgoing, pre-answer
	CallRinging CallState = "ringing" // incoming, pre-accept
	CallActive  CallState = "active"
	CallEnded   CallState = "ended"
)

// ConnState mirrors the media engine's peer connection state.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// CallParams are the launch parameters of a call screen: who, which way, and
// an optional pre-supplied remote offer for the incoming path.
type CallParams struct {
	Kind      CallKind
	Peer      Username
	Direction CallDirection
	OfferSDP  string
	OfferType string
}
