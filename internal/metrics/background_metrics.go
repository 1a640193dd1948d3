package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы публикации события outbox для label "result".
const (
	PublishSent       = "sent"
	PublishRetried    = "retried"
	PublishFailed     = "failed"
	PublishDeadLetter = "dead_letter"
	PublishDLQFailed  = "dlq_failed"
)

// OutboxMetrics описывает публикацию событий SaleRegistered.
type OutboxMetrics struct {
	publishes     *prometheus.CounterVec
	latency       prometheus.Histogram
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
}

// NewOutboxMetrics создаёт метрики outbox в DefaultRegisterer.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer создаёт метрики outbox в указанном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		publishes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_outbox_publish_attempts_total",
			Help: "Outbox publish attempts grouped by result",
		}, []string{"result"}),
		latency: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "sales_outbox_publish_duration_seconds",
			Help:    "Duration of a single outbox publish call",
			Buckets: prometheus.DefBuckets,
		}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_pending_records",
			Help: "Pending records in the transactional outbox",
		}),
		oldestPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record",
		}),
	}
}

// RecordPublish учитывает одну попытку публикации.
func (m *OutboxMetrics) RecordPublish(result string, duration time.Duration) {
	m.publishes.WithLabelValues(result).Inc()
	if duration > 0 {
		m.latency.Observe(duration.Seconds())
	}
}

// RecordOutcome учитывает итог обработки события без замера длительности.
func (m *OutboxMetrics) RecordOutcome(result string) {
	m.publishes.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер backlog и возраст самого старого события.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	m.pending.Set(float64(pending))
	m.oldestPending.Set(max(oldestAge, 0).Seconds())
}

// CleanupMetrics описывает очистку просроченных ключей идемпотентности.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetrics создаёт метрики очистки в DefaultRegisterer.
func NewCleanupMetrics() *CleanupMetrics {
	return NewCleanupMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCleanupMetricsWithRegisterer создаёт метрики очистки в указанном реестре.
func NewCleanupMetricsWithRegisterer(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency keys removed by cleanup",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_idempotency_cleanup_last_deleted",
			Help: "Keys removed during the last cleanup run",
		}),
	}
}

// RecordBatch учитывает удалённую порцию ключей.
func (m *CleanupMetrics) RecordBatch(deleted int) {
	m.deleted.Add(float64(deleted))
}

// RecordRun фиксирует завершение цикла очистки.
func (m *CleanupMetrics) RecordRun(err error, deleted int) {
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.lastDeleted.Set(float64(deleted))
}
