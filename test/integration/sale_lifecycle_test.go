package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/httpapi"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/history"
	"github.com/vladislavdragonenkov/sales/internal/service/outbox"
	"github.com/vladislavdragonenkov/sales/internal/service/registration"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

var registeredAt = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

type envelope struct {
	Status  bool            `json:"status"`
	Value   json.RawMessage `json:"value"`
	Message string          `json:"message"`
}

type saleValue struct {
	ID             int64  `json:"id"`
	DocumentNumber string `json:"document_number"`
	Total          string `json:"total"`
	Items          []struct {
		LineNo    int    `json:"line_no"`
		ProductID int64  `json:"product_id"`
		Subtotal  string `json:"subtotal"`
	} `json:"items"`
}

// SaleLifecycleTestSuite проходит путь продажи от HTTP запроса до события в Kafka.
type SaleLifecycleTestSuite struct {
	suite.Suite
	store  *memory.Store
	router *gin.Engine
	logger *log.Entry
}

func (s *SaleLifecycleTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	s.logger = baseLogger.WithField("component", "integration-test")

	s.store = memory.NewStore()
	s.store.SeedProduct(domain.Product{ID: 1, Name: "Espresso", Stock: 20, Price: decimal.RequireFromString("2.50")})
	s.store.SeedProduct(domain.Product{ID: 2, Name: "Croissant", Stock: 3, Price: decimal.RequireFromString("3.20")})

	registrar := registration.NewRegistrar(s.store,
		registration.WithLogger(s.logger),
		registration.WithMetrics(metrics.NewSaleMetricsWithRegisterer(prometheus.NewRegistry())),
		registration.WithClock(func() time.Time { return registeredAt }),
	)
	historyService := history.NewService(s.store, s.store,
		history.WithLogger(s.logger),
		history.WithClock(func() time.Time { return registeredAt }),
	)
	handler := httpapi.NewHandler(registrar, historyService, s.store, s.logger)
	s.router = httpapi.NewRouter(handler, httpapi.RouterOptions{
		Idempotency: memory.NewIdempotencyRepository(),
		Logger:      s.logger,
	})
}

func (s *SaleLifecycleTestSuite) request(method, target string, body any, headers map[string]string) (int, envelope, http.Header) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		s.Require().NoError(err)
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env, rec.Header()
}

func saleBody(items ...map[string]any) map[string]any {
	return map[string]any{"payment_type": "card", "items": items}
}

func item(productID int64, qty int, price string) map[string]any {
	return map[string]any{"product_id": productID, "quantity": qty, "unit_price": price}
}

func (s *SaleLifecycleTestSuite) TestRegisterQueryAndPublish() {
	code, env, _ := s.request(http.MethodPost, "/api/sales",
		saleBody(item(1, 2, "2.50"), item(2, 1, "3.20")), nil)
	s.Require().Equal(http.StatusCreated, code, env.Message)

	var sale saleValue
	s.Require().NoError(json.Unmarshal(env.Value, &sale))
	s.Equal("0001", sale.DocumentNumber)
	s.Equal("8.20", sale.Total)
	s.Require().Len(sale.Items, 2)
	s.Equal(1, sale.Items[0].LineNo)
	s.Equal("5.00", sale.Items[0].Subtotal)

	espresso, err := s.store.GetProduct(context.Background(), 1)
	s.Require().NoError(err)
	s.Equal(18, espresso.Stock)

	code, env, _ = s.request(http.MethodGet, "/api/sales/history?search_by=number&number=0001", nil, nil)
	s.Require().Equal(http.StatusOK, code)
	var found []saleValue
	s.Require().NoError(json.Unmarshal(env.Value, &found))
	s.Require().Len(found, 1)
	s.Equal(sale.ID, found[0].ID)

	code, env, _ = s.request(http.MethodGet, "/api/sales/report?from=01/03/2024&to=01/03/2024", nil, nil)
	s.Require().Equal(http.StatusOK, code)
	var lines []json.RawMessage
	s.Require().NoError(json.Unmarshal(env.Value, &lines))
	s.Len(lines, 2)

	code, _, _ = s.request(http.MethodGet, "/api/products/1/movements", nil, nil)
	s.Equal(http.StatusOK, code)

	s.publishPendingEvents(1)
}

func (s *SaleLifecycleTestSuite) TestInsufficientStockLeavesNoTrace() {
	code, env, _ := s.request(http.MethodPost, "/api/sales",
		saleBody(item(1, 1, "2.50"), item(2, 4, "3.20")), nil)
	s.Equal(http.StatusConflict, code)
	s.False(env.Status)

	espresso, err := s.store.GetProduct(context.Background(), 1)
	s.Require().NoError(err)
	s.Equal(20, espresso.Stock)
	s.Empty(s.store.Outbox().AllPending())

	code, env, _ = s.request(http.MethodPost, "/api/sales", saleBody(item(1, 1, "2.50")), nil)
	s.Require().Equal(http.StatusCreated, code)
	var sale saleValue
	s.Require().NoError(json.Unmarshal(env.Value, &sale))
	s.Equal("0001", sale.DocumentNumber, "failed registration must not consume a document number")
}

func (s *SaleLifecycleTestSuite) TestIdempotentRetryRegistersOnce() {
	headers := map[string]string{httpapi.IdempotencyKeyHeader: "till-7-receipt-1"}
	body := saleBody(item(1, 1, "2.50"))

	code, first, _ := s.request(http.MethodPost, "/api/sales", body, headers)
	s.Require().Equal(http.StatusCreated, code)

	code, second, hdr := s.request(http.MethodPost, "/api/sales", body, headers)
	s.Require().Equal(http.StatusCreated, code)
	s.Equal("true", hdr.Get(httpapi.IdempotentReplayHeader))
	s.JSONEq(string(first.Value), string(second.Value))

	espresso, err := s.store.GetProduct(context.Background(), 1)
	s.Require().NoError(err)
	s.Equal(19, espresso.Stock)
	s.Len(s.store.Outbox().AllPending(), 1)
}

// publishPendingEvents прогоняет outbox worker через mock-продюсер sarama.
func (s *SaleLifecycleTestSuite) publishPendingEvents(expected int) {
	mockProducer := mocks.NewSyncProducer(s.T(), nil)
	for i := 0; i < expected; i++ {
		mockProducer.ExpectSendMessageAndSucceed()
	}
	producer := kafka.NewProducerWithClient(mockProducer, s.logger)

	worker := outbox.NewWorker(s.store.Outbox(), kafka.NewOutboxPublisher(producer, kafka.TopicSaleEvents),
		outbox.WithLogger(s.logger),
		outbox.WithRetryBaseDelay(0),
	)
	worker.ProcessOnce(context.Background())

	s.Empty(s.store.Outbox().AllPending())
	s.Require().NoError(producer.Close())
}

func TestSaleLifecycle(t *testing.T) {
	suite.Run(t, new(SaleLifecycleTestSuite))
}

func TestConcurrentRegistrationsGetDistinctNumbers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := logger.WithField("component", "integration-concurrency")

	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: 1, Name: "Espresso", Stock: 50, Price: decimal.RequireFromString("2.50")})
	registrar := registration.NewRegistrar(store, registration.WithLogger(entry))

	const workers = 25
	numbers := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func() {
			sale, err := registrar.Register(context.Background(), domain.Sale{
				PaymentType: "cash",
				Items:       []domain.SaleLineItem{{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("2.50")}},
			})
			if err != nil {
				numbers <- "error: " + err.Error()
				return
			}
			numbers <- sale.DocumentNumber
		}()
	}

	seen := make(map[string]bool, workers)
	for i := 0; i < workers; i++ {
		n := <-numbers
		require.NotContains(t, n, "error")
		require.False(t, seen[n], "duplicate document number %s", n)
		seen[n] = true
	}

	product, err := store.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, product.Stock)
}
