package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/rest"
	"github.com/dench47/messenger-client-sub000/pkg/cache"
	"github.com/dench47/messenger-client-sub000/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	usersCacheKey = "users"
	usersCacheTTL = 30 * time.Second
)

// ChatService sends chat messages over the push channel when connected and
// falls back to the REST API otherwise. Every message, locally sent or
// inbound, flows through the reconciler before it reaches a conversation list.
type ChatService struct {
	auth       ports.AuthService
	channel    ports.SignalChannel
	client     *rest.Client
	reconciler *Reconciler
	usersCache *cache.CacheWithFallback
	retryCfg   retry.Config
	logger     *zap.SugaredLogger
}

func NewChatService(
	auth ports.AuthService,
	channel ports.SignalChannel,
	client *rest.Client,
	reconciler *Reconciler,
	logger *zap.SugaredLogger,
) *ChatService {
	return &ChatService{
		auth:       auth,
		channel:    channel,
		client:     client,
		reconciler: reconciler,
		usersCache: cache.NewCacheWithFallback(usersCacheTTL),
		retryCfg:   retry.DefaultConfig(),
		logger:     logger,
	}
}

// Send appends the message optimistically with a pending identity, then
// delivers it: push channel first, REST on channel failure. The REST echo
// (or the push re-delivery) later confirms the pending entry in place.
func (s *ChatService) Send(ctx context.Context, to domain.Username, content string) error {
	self := s.auth.Current().Username
	msg := domain.ChatMessage{
		Identity:  domain.PendingIdentity(uuid.New().String()),
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Sender:    self,
		Receiver:  to,
		CreatedAt: time.Now(),
	}
	conv := ports.ConversationOf(self, to)
	s.reconciler.Apply(ctx, conv, msg)

	if s.channel.Connected() && s.channel.SendChat(msg.ToWire()) {
		return nil
	}

	s.logger.Infow("push channel unavailable, sending via REST", "to", to)
	echoed, err := retry.RetryWithResult(ctx, s.retryCfg, func() (domain.WireMessage, error) {
		return s.client.SendMessage(ctx, msg.ToWire())
	})
	if err != nil {
		return fmt.Errorf("send message to %s: %w", to, err)
	}
	s.reconciler.Apply(ctx, conv, echoed.ToChatMessage(domain.OriginREST))
	return nil
}

// History fetches the conversation from the REST API, merges it through the
// reconciler and returns the reconciled ordered list. A fetch failure still
// returns whatever the local list holds.
func (s *ChatService) History(ctx context.Context, peer domain.Username) ([]domain.ChatMessage, error) {
	self := s.auth.Current().Username
	conv := ports.ConversationOf(self, peer)

	wire, err := s.client.Conversation(ctx, self, peer)
	if err != nil {
		s.logger.Warnw("conversation fetch failed, serving local list", "peer", peer, "error", err)
		return s.reconciler.Snapshot(ctx, conv), err
	}
	history := make([]domain.ChatMessage, 0, len(wire))
	for _, w := range wire {
		history = append(history, w.ToChatMessage(domain.OriginREST))
	}
	s.reconciler.MergeHistory(ctx, conv, history)
	return s.reconciler.Snapshot(ctx, conv), nil
}

func (s *ChatService) Users(ctx context.Context) ([]domain.User, error) {
	v, err := s.usersCache.GetOrSet(ctx, usersCacheKey, func(ctx context.Context) (interface{}, error) {
		return s.client.Users(ctx)
	}, usersCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}
	users, ok := v.([]domain.User)
	if !ok {
		return nil, fmt.Errorf("fetch users: unexpected cache value %T", v)
	}
	return users, nil
}

// HandleInbound is the push channel's message listener.
func (s *ChatService) HandleInbound(msg domain.ChatMessage) {
	self := s.auth.Current().Username
	peer := msg.Sender
	if peer == self {
		peer = msg.Receiver
	}
	conv := ports.ConversationOf(self, peer)
	outcome := s.reconciler.Apply(context.Background(), conv, msg)
	s.logger.Debugw("inbound chat message reconciled",
		"from", msg.Sender, "outcome", outcome)
}
