package memory

import (
	"context"
	"sync"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
)

type MemoryMessageRepository struct {
	conversations map[ports.ConversationKey][]domain.ChatMessage
	mu            sync.RWMutex
}

func NewMemoryMessageRepository() ports.MessageRepository {
	return &MemoryMessageRepository{
		conversations: make(map[ports.ConversationKey][]domain.ChatMessage),
	}
}

func (r *MemoryMessageRepository) Save(ctx context.Context, conv ports.ConversationKey, msgs []domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]domain.ChatMessage, len(msgs))
	copy(snapshot, msgs)
	r.conversations[conv] = snapshot
	return nil
}

func (r *MemoryMessageRepository) Load(ctx context.Context, conv ports.ConversationKey) ([]domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs, exists := r.conversations[conv]
	if !exists {
		return nil, nil
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}
