package ports

import (
	"context"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
)

// MessageListener receives chat messages decoded from the push channel.
type MessageListener func(domain.ChatMessage)

// SignalListener receives call-control signals decoded from the push channel.
type SignalListener func(domain.CallSignal)

// SignalChannel is the persistent bidirectional channel to the server. One
// live transport per process; chat and call traffic run on distinct logical
// destinations and never cross-deliver.
type SignalChannel interface {
	// Connect establishes a transport, tearing down any prior one first.
	Connect(ctx context.Context, token string, username domain.Username) error
	// Disconnect sends a best-effort DISCONNECT frame and closes the
	// transport. Safe to call when already disconnected.
	Disconnect()
	Connected() bool

	// SendChat and SendSignal report false when no transport is open.
	SendChat(msg domain.WireMessage) bool
	SendSignal(sig domain.CallSignal) bool

	SetMessageListener(l MessageListener)
	SetSignalListener(l SignalListener)
}
