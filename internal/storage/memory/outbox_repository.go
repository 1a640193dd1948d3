package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

type outboxEntry struct {
	msg        domain.OutboxMessage
	status     domain.OutboxStatus
	attempts   int
	enqueuedAt time.Time
	updatedAt  time.Time
}

// OutboxRepository хранит события в порядке фиксации транзакций.
type OutboxRepository struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries []*outboxEntry
	byID    map[string]*outboxEntry
}

// NewOutboxRepository создаёт пустой in-memory outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{now: time.Now, byID: make(map[string]*outboxEntry)}
}

// enqueue добавляет события одной зафиксированной транзакции.
func (r *OutboxRepository) enqueue(batch []domain.OutboxMessage) []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	saved := make([]domain.OutboxMessage, 0, len(batch))
	for _, msg := range batch {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		entry := &outboxEntry{msg: msg, status: domain.OutboxStatusPending, enqueuedAt: now, updatedAt: now}
		r.entries = append(r.entries, entry)
		r.byID[msg.ID] = entry
		saved = append(saved, msg)
	}
	return saved
}

func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, entry := range r.entries {
		if len(out) == limit {
			break
		}
		if entry.status == domain.OutboxStatusPending {
			out = append(out, entry.msg)
		}
	}
	return out, nil
}

func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		if entry.status != domain.OutboxStatusPending {
			continue
		}
		// entries упорядочены по времени постановки.
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = entry.enqueuedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.OutboxStatusFailed)
}

func (r *OutboxRepository) transition(ctx context.Context, id string, status domain.OutboxStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: message %s not found", domain.ErrOutboxPublish, id)
	}
	entry.status = status
	entry.attempts++
	entry.updatedAt = r.now().UTC()
	return nil
}

// AllPending возвращает pending-события в порядке постановки.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, entry := range r.entries {
		if entry.status == domain.OutboxStatusPending {
			out = append(out, entry.msg)
		}
	}
	return out
}

// Status возвращает состояние события и число смен статуса.
func (r *OutboxRepository) Status(id string) (domain.OutboxStatus, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok {
		return "", 0, false
	}
	return entry.status, entry.attempts, true
}

const defaultOutboxBatch = 100

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
