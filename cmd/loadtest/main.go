package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	salesPath         = "/api/sales"
)

type config struct {
	baseURL     string
	total       int
	concurrency int
	timeout     time.Duration
	productID   int64
	quantity    int
	unitPrice   string
	paymentType string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// report итог прогона; NumbersContiguous истинно, если выданные номера документов уникальны и идут без пропусков.
type report struct {
	StartedAt         time.Time        `json:"started_at"`
	DurationSeconds   float64          `json:"duration_seconds"`
	Total             int64            `json:"total"`
	Success           int64            `json:"success"`
	Failed            int64            `json:"failed"`
	ErrorRate         float64          `json:"error_rate"`
	RPS               float64          `json:"rps"`
	Statuses          map[string]int64 `json:"statuses"`
	LatencyMs         latencySummary   `json:"latency_ms"`
	NumbersContiguous bool             `json:"numbers_contiguous"`
	NumbersProblem    string           `json:"numbers_problem,omitempty"`
}

// saleRequest повторяет тело POST /api/sales.
type saleRequest struct {
	PaymentType string            `json:"payment_type"`
	Total       string            `json:"total"`
	Items       []saleItemRequest `json:"items"`
}

type saleItemRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type saleEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Value   struct {
		DocumentNumber string `json:"document_number"`
	} `json:"value"`
}

type collector struct {
	mu        sync.Mutex
	total     int64
	success   int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
	numbers   []string
}

func newCollector() *collector {
	return &collector{statuses: make(map[string]int64)}
}

func (c *collector) record(latency time.Duration, status int, documentNumber string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	key := strconv.Itoa(status)
	if err != nil {
		key = "transport_error"
	}
	c.statuses[key]++
	c.latencies = append(c.latencies, float64(latency.Microseconds())/1000.0)

	if err == nil && status == http.StatusCreated {
		c.success++
		c.numbers = append(c.numbers, documentNumber)
		return
	}
	c.failed++
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make(map[string]int64, len(c.statuses))
	for k, v := range c.statuses {
		statuses[k] = v
	}

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Total:           c.total,
		Success:         c.success,
		Failed:          c.failed,
		ErrorRate:       ratio(c.failed, c.total),
		Statuses:        statuses,
		LatencyMs:       buildLatencySummary(c.latencies),
	}
	if duration > 0 {
		result.RPS = float64(c.total) / duration.Seconds()
	}

	if err := checkDocumentNumbers(c.numbers); err != nil {
		result.NumbersProblem = err.Error()
	} else {
		result.NumbersContiguous = true
	}
	return result
}

// checkDocumentNumbers проверяет, что номера не повторяются и образуют непрерывный диапазон.
func checkDocumentNumbers(numbers []string) error {
	if len(numbers) == 0 {
		return nil
	}

	values := make([]int64, 0, len(numbers))
	seen := make(map[int64]struct{}, len(numbers))
	for _, raw := range numbers {
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("document number %q is not numeric", raw)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("document number %q issued twice", raw)
		}
		seen[v] = struct{}{}
		values = append(values, v)
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1]+1 {
			return fmt.Errorf("gap between document numbers %d and %d", values[i-1], values[i])
		}
	}
	return nil
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var timeoutValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "sales service base URL")
	fs.IntVar(&cfg.total, "total", 200, "total sales to register")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "number of concurrent workers")
	fs.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	fs.Int64Var(&cfg.productID, "product-id", 1, "product to sell")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per sale")
	fs.StringVar(&cfg.unitPrice, "unit-price", "2.50", "unit price as decimal string")
	fs.StringVar(&cfg.paymentType, "payment-type", "cash", "payment type: cash | card")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if cfg.baseURL == "" {
		return cfg, errors.New("url is required")
	}
	if cfg.total <= 0 {
		return cfg, errors.New("total must be > 0")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.productID <= 0 {
		return cfg, errors.New("product-id must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(cfg.unitPrice))
	if err != nil {
		return cfg, fmt.Errorf("unit-price must be a decimal: %w", err)
	}
	if price.IsNegative() {
		return cfg, errors.New("unit-price must be >= 0")
	}
	cfg.unitPrice = price.StringFixed(2)
	switch cfg.paymentType {
	case "cash", "card":
	default:
		return cfg, fmt.Errorf("unsupported payment-type: %s", cfg.paymentType)
	}
	return cfg, nil
}

func newClient(cfg config) *resty.Client {
	return resty.New().
		SetBaseURL(cfg.baseURL).
		SetTimeout(cfg.timeout).
		SetHeader("Content-Type", "application/json")
}

func buildSaleRequest(cfg config) saleRequest {
	price := decimal.RequireFromString(cfg.unitPrice)
	total := price.Mul(decimal.NewFromInt(int64(cfg.quantity))).StringFixed(2)
	return saleRequest{
		PaymentType: cfg.paymentType,
		Total:       total,
		Items: []saleItemRequest{{
			ProductID: cfg.productID,
			Quantity:  cfg.quantity,
			UnitPrice: cfg.unitPrice,
		}},
	}
}

// registerSale отправляет одну продажу с уникальным ключом идемпотентности.
func registerSale(client *resty.Client, body saleRequest, col *collector) error {
	var envelope saleEnvelope
	start := time.Now()
	resp, err := client.R().
		SetHeader(idempotencyHeader, uuid.NewString()).
		SetBody(body).
		SetResult(&envelope).
		SetError(&envelope).
		Post(salesPath)
	latency := time.Since(start)

	if err != nil {
		col.record(latency, 0, "", err)
		return err
	}
	col.record(latency, resp.StatusCode(), envelope.Value.DocumentNumber, nil)
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), envelope.Message)
	}
	return nil
}

func runLoad(client *resty.Client, cfg config) report {
	col := newCollector()
	body := buildSaleRequest(cfg)

	jobs := make(chan struct{}, cfg.concurrency*2)
	var wg sync.WaitGroup
	startedAt := time.Now()
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				_ = registerSale(client, body, col)
			}
		}()
	}
	for i := 0; i < cfg.total; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := runLoad(newClient(cfg), cfg)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.Failed > 0 || !result.NumbersContiguous {
		os.Exit(1)
	}
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "url=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.baseURL, result.Total, result.Success, result.Failed, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.LatencyMs.Min, result.LatencyMs.Avg, result.LatencyMs.P50,
		result.LatencyMs.P95, result.LatencyMs.P99, result.LatencyMs.Max)

	statuses := make([]string, 0, len(result.Statuses))
	for s := range result.Statuses {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "status %s: %d\n", s, result.Statuses[s])
	}

	if result.NumbersContiguous {
		_, _ = fmt.Fprintln(w, "document numbers: unique and contiguous")
	} else {
		_, _ = fmt.Fprintf(w, "document numbers: %s\n", result.NumbersProblem)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
