package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// Options задаёт параметры Registrar.
type Options struct {
	Logger              *log.Entry
	Metrics             *metrics.SaleMetrics
	Timeout             time.Duration
	DocumentNumberWidth int
	Clock               func() time.Time
}

// Option настраивает Registrar.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics включает метрики регистрации.
func WithMetrics(m *metrics.SaleMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithTimeout задаёт дедлайн одной регистрации; 0 отключает дедлайн.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithDocumentNumberWidth задаёт ширину номера документа.
func WithDocumentNumberWidth(width int) Option {
	return func(opts *Options) {
		opts.DocumentNumberWidth = width
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Registrar атомарно регистрирует продажи: списывает остатки, выдаёт
// следующий номер документа и сохраняет продажу в одной транзакции.
type Registrar struct {
	store   domain.SaleStore
	logger  *log.Entry
	metrics *metrics.SaleMetrics
	timeout time.Duration
	width   int
	now     func() time.Time
}

// NewRegistrar создаёт Registrar поверх транзакционного хранилища.
func NewRegistrar(store domain.SaleStore, options ...Option) *Registrar {
	opts := Options{
		Timeout:             defaultTimeout,
		DocumentNumberWidth: domain.DefaultDocumentNumberWidth,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sale-registrar")
	}
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	if opts.DocumentNumberWidth <= 0 {
		opts.DocumentNumberWidth = domain.DefaultDocumentNumberWidth
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Registrar{
		store:   store,
		logger:  logger,
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		width:   opts.DocumentNumberWidth,
		now:     clock,
	}
}

// Register регистрирует продажу. При любой ошибке внутри транзакции
// изменения откатываются и возвращается ошибка, оборачивающая
// domain.ErrRegistrationFailed и исходную причину.
func (r *Registrar) Register(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	started := time.Now()
	if r.metrics != nil {
		r.metrics.RecordStarted()
	}
	result := metrics.ResultStorageFailed
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordFinished(result, time.Since(started))
		}
	}()

	if errs := sale.ValidateInvariants(); len(errs) > 0 {
		result = metrics.ResultValidationFailed
		return domain.Sale{}, fmt.Errorf("%w: %w", domain.ErrValidationFailed, errors.Join(errs...))
	}

	draft := sale
	draft.Items = append([]domain.SaleLineItem(nil), sale.Items...)
	draft.ApplyTotals()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		registered domain.Sale
		number     int64
	)
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx domain.SaleTx) error {
		var err error
		registered, number, err = r.registerInTx(ctx, tx, draft)
		return err
	})
	if err != nil {
		result = classify(ctx, err)
		err = wrapFailure(ctx, err)
		r.logger.WithError(err).WithFields(log.Fields{
			"items":  len(draft.Items),
			"result": result,
		}).Warn("sale registration rolled back")
		return domain.Sale{}, err
	}

	result = metrics.ResultRegistered
	if r.metrics != nil {
		units := 0
		for _, item := range registered.Items {
			units += item.Quantity
		}
		r.metrics.RecordSale(len(registered.Items), units)
	}
	if domain.DocumentNumberWraps(number, r.width) {
		if r.metrics != nil {
			r.metrics.RecordDocumentWrap()
		}
		r.logger.WithFields(log.Fields{
			"counter":         number,
			"document_number": registered.DocumentNumber,
			"width":           r.width,
		}).Warn("document number exceeds configured width and was truncated")
	}

	r.logger.WithFields(log.Fields{
		"sale_id":         registered.ID,
		"document_number": registered.DocumentNumber,
		"total":           registered.Total.StringFixed(2),
		"items":           len(registered.Items),
	}).Info("sale registered")

	return registered, nil
}

// registerInTx выполняет шаги регистрации. Товары блокируются по возрастанию ID,
// затем счётчик: единый порядок захвата блокировок исключает взаимные блокировки.
func (r *Registrar) registerInTx(ctx context.Context, tx domain.SaleTx, sale domain.Sale) (domain.Sale, int64, error) {
	quantities, err := sale.QuantitiesByProduct()
	if err != nil {
		return domain.Sale{}, 0, err
	}
	productIDs := make([]int64, 0, len(quantities))
	for id := range quantities {
		productIDs = append(productIDs, id)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	products := make(map[int64]domain.Product, len(productIDs))
	for _, id := range productIDs {
		product, err := tx.FindProductForUpdate(ctx, id)
		if err != nil {
			return domain.Sale{}, 0, fmt.Errorf("lock product %d: %w", id, err)
		}
		if !product.CanFulfil(quantities[id]) {
			return domain.Sale{}, 0, fmt.Errorf("%w: product %d has %d, requested %d",
				domain.ErrInsufficientStock, id, product.Stock, quantities[id])
		}
		products[id] = product
	}

	for _, id := range productIDs {
		remaining := products[id].Stock - quantities[id]
		if err := tx.UpdateProductStock(ctx, id, remaining); err != nil {
			return domain.Sale{}, 0, fmt.Errorf("update stock of product %d: %w", id, err)
		}
	}

	counter, err := tx.LockDocumentCounter(ctx)
	if err != nil {
		return domain.Sale{}, 0, fmt.Errorf("lock document counter: %w", err)
	}
	now := r.now()
	number := counter.Advance(now)
	if err := tx.SaveDocumentCounter(ctx, counter); err != nil {
		return domain.Sale{}, 0, fmt.Errorf("save document counter: %w", err)
	}

	sale.DocumentNumber = domain.FormatDocumentNumber(number, r.width)
	sale.RegisteredAt = now
	for i := range sale.Items {
		sale.Items[i].ProductName = products[sale.Items[i].ProductID].Name
	}

	saved, err := tx.InsertSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, 0, fmt.Errorf("insert sale: %w", err)
	}

	for _, id := range productIDs {
		movement := domain.StockMovement{
			ProductID:  id,
			SaleID:     saved.ID,
			Delta:      -quantities[id],
			StockAfter: products[id].Stock - quantities[id],
			Occurred:   now,
		}
		if err := tx.AppendStockMovement(ctx, movement); err != nil {
			return domain.Sale{}, 0, fmt.Errorf("append stock movement: %w", err)
		}
	}

	payload, err := json.Marshal(kafka.NewSaleRegisteredEvent(saved))
	if err != nil {
		return domain.Sale{}, 0, fmt.Errorf("marshal sale event: %w", err)
	}
	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateTypeSale,
		AggregateID:   strconv.FormatInt(saved.ID, 10),
		EventType:     domain.EventTypeSaleRegistered,
		Payload:       payload,
	}
	if err := tx.EnqueueOutbox(ctx, msg); err != nil {
		return domain.Sale{}, 0, fmt.Errorf("enqueue outbox: %w", err)
	}

	return saved, number, nil
}

func wrapFailure(ctx context.Context, err error) error {
	if !timedOut(ctx, err) {
		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", err, context.DeadlineExceeded)
	}
	return fmt.Errorf("%w: %w: %w", domain.ErrRegistrationFailed, domain.ErrRegistrationTimeout, err)
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func classify(ctx context.Context, err error) string {
	switch {
	case timedOut(ctx, err):
		return metrics.ResultTimeout
	case errors.Is(err, domain.ErrReferenceNotFound):
		return metrics.ResultReferenceNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ResultInsufficientStock
	default:
		return metrics.ResultStorageFailed
	}
}
