package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты регистрации продажи для label "result".
const (
	ResultRegistered        = "registered"
	ResultValidationFailed  = "validation_failed"
	ResultReferenceNotFound = "reference_not_found"
	ResultInsufficientStock = "insufficient_stock"
	ResultTimeout           = "timeout"
	ResultStorageFailed     = "storage_failed"
)

// SaleMetrics содержит метрики регистрации продаж.
type SaleMetrics struct {
	registrations *prometheus.CounterVec
	duration      prometheus.Histogram
	lineItems     prometheus.Counter
	unitsSold     prometheus.Counter

	// Переполнение ширины номера документа
	documentWraps prometheus.Counter

	inFlight prometheus.Gauge
}

// NewSaleMetrics создаёт метрики в DefaultRegisterer.
func NewSaleMetrics() *SaleMetrics {
	return NewSaleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSaleMetricsWithRegisterer создаёт метрики в указанном реестре (удобно для тестов).
func NewSaleMetricsWithRegisterer(registerer prometheus.Registerer) *SaleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SaleMetrics{
		registrations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "sales_registrations_total",
			Help: "Total number of sale registrations grouped by result",
		}, []string{"result"}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "sales_registration_duration_seconds",
			Help:    "Duration of sale registration transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		lineItems: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_line_items_total",
			Help: "Total number of line items in registered sales",
		}),
		unitsSold: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_units_sold_total",
			Help: "Total number of stock units decremented by registered sales",
		}),
		documentWraps: registerCounter(registerer, prometheus.CounterOpts{
			Name: "sales_document_number_wraps_total",
			Help: "Number of document numbers truncated to the configured width",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "sales_registrations_in_flight",
			Help: "Number of sale registrations currently holding a transaction",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordStarted отмечает начало регистрации.
func (m *SaleMetrics) RecordStarted() {
	m.inFlight.Inc()
}

// RecordFinished фиксирует результат и длительность регистрации.
func (m *SaleMetrics) RecordFinished(result string, duration time.Duration) {
	m.inFlight.Dec()
	m.registrations.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordSale учитывает позиции и проданные единицы успешной продажи.
func (m *SaleMetrics) RecordSale(lineItems, units int) {
	m.lineItems.Add(float64(lineItems))
	m.unitsSold.Add(float64(units))
}

// RecordDocumentWrap увеличивает счётчик усечённых номеров документов.
func (m *SaleMetrics) RecordDocumentWrap() {
	m.documentWraps.Inc()
}
