// Package idempotency удаляет просроченные ключи Idempotency-Key.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// ExpiredKeyDeleter удаляет порцию ключей с ttl_at <= before.
type ExpiredKeyDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

type cleanupSettings struct {
	logger    *log.Entry
	metrics   *metrics.CleanupMetrics
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*cleanupSettings)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(s *cleanupSettings) { s.logger = logger }
}

func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(s *cleanupSettings) { s.metrics = m }
}

func WithClock(now func() time.Time) CleanupOption {
	return func(s *cleanupSettings) { s.now = now }
}

// WithInterval задаёт паузу между циклами очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(s *cleanupSettings) { s.interval = interval }
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом.
func WithBatchSize(size int) CleanupOption {
	return func(s *cleanupSettings) { s.batchSize = size }
}

// CleanupWorker периодически вычищает просроченные ключи порциями.
type CleanupWorker struct {
	repo ExpiredKeyDeleter
	cleanupSettings
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo ExpiredKeyDeleter, options ...CleanupOption) *CleanupWorker {
	s := cleanupSettings{
		now:       time.Now,
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&s)
	}

	if s.logger == nil {
		s.logger = log.WithField("component", "idempotency-cleanup")
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCleanupMetrics()
	}
	if s.interval <= 0 {
		s.interval = defaultCleanupInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultCleanupBatchSize
	}

	return &CleanupWorker{repo: repo, cleanupSettings: s}
}

// Run чистит ключи сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("очистка ключей идемпотентности выключена: нет репозитория")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce выполняет один цикл очистки и возвращает число удалённых ключей.
func (w *CleanupWorker) RunOnce(ctx context.Context) int {
	deleted, err := w.DeleteExpired(ctx, w.now().UTC())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return deleted
	}
	w.metrics.RecordRun(err, deleted)
	if err != nil {
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup failed")
		return deleted
	}
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("просроченные ключи идемпотентности удалены")
	}
	return deleted
}

// DeleteExpired удаляет все ключи с ttl_at <= before, пока репозиторий отдаёт полные порции.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		w.metrics.RecordBatch(n)

		if n < w.batchSize {
			return total, nil
		}
	}
}
