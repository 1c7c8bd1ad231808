package services

import (
	"context"
	"sync"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// ReconcileOutcome is what the reconciler decided to do with a message.
type ReconcileOutcome string

const (
	OutcomeAppended ReconcileOutcome = "appended"
	OutcomeReplaced ReconcileOutcome = "replaced"
	OutcomeDeduped  ReconcileOutcome = "deduped"
)

// defaultDedupWindow bounds the identifier-less duplicate check: an existing
// entry older than this is never considered the "same" message again, so a
// genuinely repeated "hi" later in the conversation still appends.
const defaultDedupWindow = 30 * time.Second

// Reconciler merges chat messages arriving via the push channel with
// messages sent (and echoed back) via the REST fallback into one ordered
// list per conversation. Messages stay in append order; no reordering by
// timestamp is ever performed.
type Reconciler struct {
	repo        ports.MessageRepository
	metrics     *monitoring.Collector
	logger      *zap.SugaredLogger
	dedupWindow time.Duration

	mu     sync.Mutex
	lists  map[ports.ConversationKey][]domain.ChatMessage
	loaded map[ports.ConversationKey]bool
}

func NewReconciler(repo ports.MessageRepository, metrics *monitoring.Collector, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		repo:        repo,
		metrics:     metrics,
		logger:      logger,
		dedupWindow: defaultDedupWindow,
		lists:       make(map[ports.ConversationKey][]domain.ChatMessage),
		loaded:      make(map[ports.ConversationKey]bool),
	}
}

// Apply folds one message into the conversation list and reports what
// happened. The decision is a total function over the identity cases:
//
//   - incoming has a server ID matching an existing entry → replace in place
//     (covers the server echoing a message we appended optimistically);
//   - incoming has a server ID matching a recent pending entry's
//     content+sender → confirm that entry in place;
//   - incoming has no server ID and an identifier-less entry with equal
//     content and sender was appended recently → drop as a duplicate;
//   - otherwise → append.
func (r *Reconciler) Apply(ctx context.Context, conv ports.ConversationKey, msg domain.ChatMessage) ReconcileOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx, conv)
	list := r.lists[conv]

	if msg.Identity.Confirmed() {
		for i := range list {
			if list[i].Identity.Same(msg.Identity) {
				list[i] = msg
				r.persist(ctx, conv, list)
				r.metrics.ReconcilerOutcome(string(OutcomeReplaced))
				return OutcomeReplaced
			}
		}
		// A server echo of an optimistic send arrives confirmed while the
		// local entry is still pending; match it by content and sender so
		// the pending entry is upgraded instead of duplicated. The freshness
		// window bounds the inference: a stale pending entry (a failed send
		// from minutes ago) must not swallow a genuinely new message that
		// happens to repeat the same text.
		for i := range list {
			if !list[i].Identity.Confirmed() &&
				list[i].Content == msg.Content && list[i].Sender == msg.Sender &&
				time.Since(list[i].CreatedAt) < r.dedupWindow {
				msg.Identity.LocalKey = list[i].Identity.LocalKey
				list[i] = msg
				r.persist(ctx, conv, list)
				r.metrics.ReconcilerOutcome(string(OutcomeReplaced))
				return OutcomeReplaced
			}
		}
	} else {
		for i := range list {
			if list[i].Identity.Confirmed() {
				continue
			}
			if list[i].Content == msg.Content && list[i].Sender == msg.Sender &&
				time.Since(list[i].CreatedAt) < r.dedupWindow {
				r.metrics.ReconcilerOutcome(string(OutcomeDeduped))
				return OutcomeDeduped
			}
		}
	}

	r.lists[conv] = append(list, msg)
	r.persist(ctx, conv, r.lists[conv])
	r.metrics.ReconcilerOutcome(string(OutcomeAppended))
	return OutcomeAppended
}

// MergeHistory folds a REST conversation fetch into the list. Entries the
// list already holds are replaced in place; new ones append in fetch order.
func (r *Reconciler) MergeHistory(ctx context.Context, conv ports.ConversationKey, history []domain.ChatMessage) {
	for _, msg := range history {
		r.Apply(ctx, conv, msg)
	}
}

// Snapshot returns a copy of the conversation list in append order.
func (r *Reconciler) Snapshot(ctx context.Context, conv ports.ConversationKey) []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx, conv)
	out := make([]domain.ChatMessage, len(r.lists[conv]))
	copy(out, r.lists[conv])
	return out
}

func (r *Reconciler) ensureLoaded(ctx context.Context, conv ports.ConversationKey) {
	if r.loaded[conv] || r.repo == nil {
		r.loaded[conv] = true
		return
	}
	r.loaded[conv] = true
	msgs, err := r.repo.Load(ctx, conv)
	if err != nil {
		r.logger.Warnw("failed to load conversation snapshot", "conversation", conv, "error", err)
		return
	}
	r.lists[conv] = msgs
}

func (r *Reconciler) persist(ctx context.Context, conv ports.ConversationKey, list []domain.ChatMessage) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Save(ctx, conv, list); err != nil {
		r.logger.Warnw("failed to persist conversation snapshot", "conversation", conv, "error", err)
	}
}
