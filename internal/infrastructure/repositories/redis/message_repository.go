package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// snapshotTTL bounds how long a conversation snapshot outlives its last
// write; the REST history fetch is the source of truth on a cold start.
const snapshotTTL = 7 * 24 * time.Hour

type RedisMessageRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageRepository(client *redis.Client) ports.MessageRepository {
	return &RedisMessageRepository{
		client: client,
		prefix: "messenger:conversation:",
	}
}

func (r *RedisMessageRepository) conversationKey(conv ports.ConversationKey) string {
	return r.prefix + string(conv)
}

// storedMessage carries the full identity across the snapshot boundary; the
// wire encoding of ChatMessage deliberately omits the local key.
type storedMessage struct {
	ServerID  string `json:"serverId,omitempty"`
	LocalKey  string `json:"localKey,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Origin    string `json:"origin,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

func (r *RedisMessageRepository) Save(ctx context.Context, conv ports.ConversationKey, msgs []domain.ChatMessage) error {
	stored := make([]storedMessage, 0, len(msgs))
	for _, m := range msgs {
		stored = append(stored, storedMessage{
			ServerID:  m.Identity.ServerID,
			LocalKey:  m.Identity.LocalKey,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Sender:    string(m.Sender),
			Receiver:  string(m.Receiver),
			Origin:    string(m.Origin),
			CreatedAt: m.CreatedAt.UnixNano(),
		})
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation snapshot: %w", err)
	}

	key := r.conversationKey(conv)
	if err := r.client.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation in Redis: %w", err)
	}
	return nil
}

func (r *RedisMessageRepository) Load(ctx context.Context, conv ports.ConversationKey) ([]domain.ChatMessage, error) {
	key := r.conversationKey(conv)
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation from Redis: %w", err)
	}

	var stored []storedMessage
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation snapshot: %w", err)
	}

	msgs := make([]domain.ChatMessage, 0, len(stored))
	for _, s := range stored {
		msgs = append(msgs, domain.ChatMessage{
			Identity: domain.MessageIdentity{
				ServerID: s.ServerID,
				LocalKey: s.LocalKey,
			},
			Content:   s.Content,
			Timestamp: s.Timestamp,
			Sender:    domain.Username(s.Sender),
			Receiver:  domain.Username(s.Receiver),
			Origin:    domain.MessageOrigin(s.Origin),
			CreatedAt: time.Unix(0, s.CreatedAt),
		})
	}
	return msgs, nil
}
