package ports

import (
	"context"
	"sort"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
)

// ConversationKey identifies the ordered message list between two users,
// independent of which side is local.
type ConversationKey string

func ConversationOf(a, b domain.Username) ConversationKey {
	pair := []string{string(a), string(b)}
	sort.Strings(pair)
	return ConversationKey(pair[0] + ":" + pair[1])
}

// MessageRepository persists reconciled conversation snapshots.
type MessageRepository interface {
	Save(ctx context.Context, conv ConversationKey, msgs []domain.ChatMessage) error
	Load(ctx context.Context, conv ConversationKey) ([]domain.ChatMessage, error)
}
