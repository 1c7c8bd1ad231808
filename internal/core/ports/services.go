package ports

import (
	"context"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
)

type AuthService interface {
	Login(ctx context.Context, username, password string) (domain.Session, error)
	Refresh(ctx context.Context) (domain.Session, error)
	Current() domain.Session
}

type ChatService interface {
	// Send delivers via the push channel when connected, falling back to REST.
	Send(ctx context.Context, to domain.Username, content string) error
	// History returns the reconciled ordered conversation with peer.
	History(ctx context.Context, peer domain.Username) ([]domain.ChatMessage, error)
	Users(ctx context.Context) ([]domain.User, error)
	// HandleInbound feeds a message from either delivery channel through the
	// reconciler. Registered as the channel's message listener.
	HandleInbound(msg domain.ChatMessage)
}

type CallService interface {
	Start(ctx context.Context, params domain.CallParams) error
	Accept(ctx context.Context) error
	Decline(ctx context.Context, reason string) error
	End(ctx context.Context) error
	State() domain.CallState
	Peer() domain.Username
}

// CallSignalSender is the outbound half of the call signal dispatcher.
type CallSignalSender interface {
	SendOffer(to domain.Username, desc domain.SessionDescription) error
	SendAnswer(to domain.Username, desc domain.SessionDescription) error
	SendCandidate(to domain.Username, c domain.ICECandidate) error
	SendEnd(to domain.Username) error
	SendReject(to domain.Username, reason string) error
}

// CallSignalDispatcher routes inbound call signals to the call-scoped
// listener and serializes outbound ones.
type CallSignalDispatcher interface {
	CallSignalSender
	// SetListener registers the call-scoped listener; signals whose sender is
	// not expectedPeer are dropped before delivery.
	SetListener(expectedPeer domain.Username, l SignalListener)
	ClearListener()
	// HandleInbound is registered as the channel's signal listener.
	HandleInbound(sig domain.CallSignal)
}

// PermissionChecker gates call setup on media capture permission. The
// process-level analogue of the mobile runtime permission prompt.
type PermissionChecker interface {
	CheckMedia(ctx context.Context, kind domain.CallKind) error
}
