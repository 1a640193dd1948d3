// Package outbox доставляет события SaleRegistered из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

type settings struct {
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	deadLetters    domain.OutboxPublisher
	now            func() time.Time
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*settings)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics подключает метрики публикации.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithDLQPublisher задаёт publisher для событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.deadLetters = publisher }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) { s.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(s *settings) { s.batchSize = size }
}

func WithMaxAttempts(attempts int) Option {
	return func(s *settings) { s.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; далее она удваивается до maxRetryDelay.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *settings) { s.retryBaseDelay = delay }
}

// BatchResult итог одного цикла обработки.
type BatchResult struct {
	Sent   int
	Failed int
}

// Worker публикует pending-события outbox и помечает их sent или failed.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	s := settings{
		now:            time.Now,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&s)
	}

	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.metrics == nil {
		s.metrics = metrics.NewOutboxMetrics()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	s.retryBaseDelay = max(s.retryBaseDelay, 0)

	return &Worker{repo: repo, publisher: publisher, settings: s}
}

// Run обрабатывает outbox сразу и затем каждые pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker выключен: нет репозитория или publisher")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	for _, event := range batch {
		if ctx.Err() != nil {
			break
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":    event.ID,
			"aggregate_id": event.AggregateID,
			"event_type":   event.EventType,
		})

		if err := w.deliver(ctx, event); err != nil {
			if ctx.Err() != nil {
				break
			}
			result.Failed++
			entry.WithError(err).Error("событие не опубликовано, попытки исчерпаны")
			w.metrics.RecordOutcome(metrics.PublishFailed)
			w.sendToDeadLetters(ctx, event, err, entry)
			if markErr := w.repo.MarkFailed(ctx, event.ID); markErr != nil {
				entry.WithError(markErr).Warn("failed to mark outbox message as failed")
			}
			continue
		}

		result.Sent++
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox message as sent")
		}
	}

	if result.Sent+result.Failed > 0 {
		w.logger.WithFields(log.Fields{"sent": result.Sent, "failed": result.Failed}).Debug("outbox batch processed")
	}
	return result
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		started := w.now()
		err = w.publisher.Publish(ctx, event)
		elapsed := w.now().Sub(started)
		if err == nil {
			w.metrics.RecordPublish(metrics.PublishSent, elapsed)
			return nil
		}
		w.metrics.RecordPublish(metrics.PublishRetried, elapsed)

		if attempt == w.maxAttempts {
			break
		}
		if delay := backoff(w.retryBaseDelay, attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, err)
}

// backoff удваивает base на каждой попытке, не превышая maxRetryDelay.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

// deadLetter конверт события, отправляемого в DLQ-топик.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) sendToDeadLetters(ctx context.Context, event domain.OutboxMessage, cause error, entry *log.Entry) {
	if w.deadLetters == nil {
		return
	}

	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(event.Payload))
	}
	body, err := json.Marshal(deadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		Error:         cause.Error(),
		FailedAt:      w.now().UTC(),
	})
	if err == nil {
		letter := event
		letter.Payload = body
		err = w.deadLetters.Publish(ctx, letter)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to publish to DLQ")
		w.metrics.RecordOutcome(metrics.PublishDLQFailed)
		return
	}
	w.metrics.RecordOutcome(metrics.PublishDeadLetter)
}
