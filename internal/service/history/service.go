package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/cache"
	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// DateLayout — формат дат в запросах истории и отчётов (dd/MM/yyyy).
const DateLayout = "02/01/2006"

const (
	defaultSummaryTTL = 30 * time.Second
	summaryWindow     = 7 * 24 * time.Hour
)

// ErrInvalidDate возвращается при неверном формате или порядке дат.
var ErrInvalidDate = errors.New("invalid date range")

// Options задаёт параметры Service.
type Options struct {
	Logger     *log.Entry
	Cache      cache.SummaryCache
	SummaryTTL time.Duration
	Clock      func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithCache подключает кэш сводки dashboard.
func WithCache(c cache.SummaryCache) Option {
	return func(opts *Options) { opts.Cache = c }
}

// WithSummaryTTL задаёт время жизни закэшированной сводки.
func WithSummaryTTL(ttl time.Duration) Option {
	return func(opts *Options) { opts.SummaryTTL = ttl }
}

// WithClock подменяет источник текущего времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) { opts.Clock = clock }
}

// Service отвечает на read-only запросы: история продаж, отчёт и сводка dashboard.
type Service struct {
	sales    domain.SaleReader
	products domain.ProductReader
	cache    cache.SummaryCache
	ttl      time.Duration
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис истории продаж.
func NewService(sales domain.SaleReader, products domain.ProductReader, options ...Option) *Service {
	opts := Options{SummaryTTL: defaultSummaryTTL}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sale-history")
	}
	summaryCache := opts.Cache
	if summaryCache == nil {
		summaryCache = cache.NoopSummaryCache{}
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = defaultSummaryTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		sales:    sales,
		products: products,
		cache:    summaryCache,
		ttl:      opts.SummaryTTL,
		logger:   logger,
		now:      clock,
	}
}

// ParseDateRange разбирает даты dd/MM/yyyy и возвращает полуинтервал
// [from, to+1 день), включающий обе календарные даты.
func ParseDateRange(from, to string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, strings.TrimSpace(from), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from %q: %w", ErrInvalidDate, from, err)
	}
	end, err := time.ParseInLocation(DateLayout, strings.TrimSpace(to), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to %q: %w", ErrInvalidDate, to, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s is before %s", ErrInvalidDate, to, from)
	}
	return start, end.AddDate(0, 0, 1), nil
}

// ByDocumentNumber ищет продажи по номеру документа.
func (s *Service) ByDocumentNumber(ctx context.Context, number string) ([]domain.Sale, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, fmt.Errorf("%w: document number is required", domain.ErrValidationFailed)
	}
	sales, err := s.sales.FindByDocumentNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("find sales by document number: %w", err)
	}
	return sales, nil
}

// ByDateRange возвращает продажи между датами dd/MM/yyyy включительно.
func (s *Service) ByDateRange(ctx context.Context, from, to string) ([]domain.Sale, error) {
	start, end, err := ParseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	sales, err := s.sales.ListByPeriod(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list sales by period: %w", err)
	}
	return sales, nil
}

// Report возвращает позиции продаж между датами dd/MM/yyyy включительно.
func (s *Service) Report(ctx context.Context, from, to string) ([]domain.ReportLine, error) {
	start, end, err := ParseDateRange(from, to)
	if err != nil {
		return nil, err
	}
	lines, err := s.sales.ListReportLines(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list report lines: %w", err)
	}
	return lines, nil
}

// Summary строит сводку за семь дней до последней продажи включительно.
// Результат кэшируется; ошибки кэша только логируются.
func (s *Service) Summary(ctx context.Context) (domain.DashboardSummary, error) {
	if cached, ok, err := s.cache.Get(ctx, cache.SummaryKey); err != nil {
		s.logger.WithError(err).Warn("failed to read dashboard summary from cache")
	} else if ok {
		return *cached, nil
	}

	summary, err := s.buildSummary(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	if err := s.cache.Set(ctx, cache.SummaryKey, &summary, s.ttl); err != nil {
		s.logger.WithError(err).Warn("failed to store dashboard summary in cache")
	}
	return summary, nil
}

// InvalidateSummary сбрасывает кэш сводки после регистрации продажи.
func (s *Service) InvalidateSummary(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.SummaryKey); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate dashboard summary cache")
	}
}

func (s *Service) buildSummary(ctx context.Context) (domain.DashboardSummary, error) {
	summary := domain.DashboardSummary{
		Revenue:     decimal.Zero,
		Daily:       []domain.DailySales{},
		GeneratedAt: s.now(),
	}

	productCount, err := s.products.CountProducts(ctx)
	if err != nil {
		return domain.DashboardSummary{}, fmt.Errorf("count products: %w", err)
	}
	summary.ProductCount = productCount

	latest, ok, err := s.sales.LatestRegisteredAt(ctx)
	if err != nil {
		return domain.DashboardSummary{}, fmt.Errorf("latest sale: %w", err)
	}
	if !ok {
		return summary, nil
	}

	sales, err := s.sales.ListByPeriod(ctx, latest.Add(-summaryWindow), latest.Add(time.Nanosecond))
	if err != nil {
		return domain.DashboardSummary{}, fmt.Errorf("list sales for summary: %w", err)
	}

	perDay := make(map[time.Time]int)
	days := make([]time.Time, 0, 8)
	for _, sale := range sales {
		summary.SalesCount++
		summary.Revenue = summary.Revenue.Add(sale.Total)

		ts := sale.RegisteredAt.UTC()
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		if _, seen := perDay[day]; !seen {
			days = append(days, day)
		}
		perDay[day]++
	}
	// sales отсортированы по времени, поэтому days уже по возрастанию.
	for _, day := range days {
		summary.Daily = append(summary.Daily, domain.DailySales{Date: day, Count: perDay[day]})
	}

	return summary, nil
}
