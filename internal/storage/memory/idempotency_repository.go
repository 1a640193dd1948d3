package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// IdempotencyRepository держит ключи Idempotency-Key кассовых запросов в памяти процесса.
type IdempotencyRepository struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт in-memory хранилище ключей идемпотентности.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return NewIdempotencyRepositoryWithClock(time.Now)
}

// NewIdempotencyRepositoryWithClock позволяет подменить часы в тестах.
func NewIdempotencyRepositoryWithClock(now func() time.Time) *IdempotencyRepository {
	return &IdempotencyRepository{now: now, items: make(map[string]domain.IdempotencyRecord)}
}

// CreateProcessing захватывает ключ. Просроченную запись, которую ещё не убрал
// cleanup worker, занимает заново.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	now := r.now()
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[record.Key]; ok && !existing.Expired(now) {
		return existing.Clone(), existing.ConflictWith(record.RequestHash)
	}
	r.items[record.Key] = record
	return record.Clone(), nil
}

// Get возвращает копию записи по ключу.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record.Clone(), nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit записей с ttl_at <= before, начиная с самых старых.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.items {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(r.items, record.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.items[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = responseBody
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now().UTC()
	r.items[key] = record.Clone()
	return nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
