package registration_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/metrics"
	"github.com/vladislavdragonenkov/sales/internal/service/registration"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

const (
	productA = int64(1)
	productB = int64(2)
)

var fixedNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func newStore() *memory.Store {
	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: productA, Name: "Coffee", Stock: 10, Price: decimal.RequireFromString("10.00")})
	store.SeedProduct(domain.Product{ID: productB, Name: "Milk", Stock: 10, Price: decimal.RequireFromString("5.00")})
	return store
}

func newRegistrar(store domain.SaleStore, opts ...registration.Option) *registration.Registrar {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	base := []registration.Option{
		registration.WithLogger(logger.WithField("component", "registrar-test")),
		registration.WithClock(func() time.Time { return fixedNow }),
	}
	return registration.NewRegistrar(store, append(base, opts...)...)
}

func scenarioSale() domain.Sale {
	return domain.Sale{
		PaymentType: "cash",
		Items: []domain.SaleLineItem{
			{ProductID: productA, Quantity: 3, UnitPrice: decimal.RequireFromString("10.00")},
			{ProductID: productB, Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
		},
	}
}

func stockOf(t *testing.T, store *memory.Store, id int64) int {
	t.Helper()
	p, err := store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func counterOf(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	c, ok := store.Counter()
	require.True(t, ok)
	return c.LastNumber
}

func TestRegister_TwoLineScenario(t *testing.T) {
	store := newStore()
	reg := prometheus.NewRegistry()
	registrar := newRegistrar(store, registration.WithMetrics(metrics.NewSaleMetricsWithRegisterer(reg)))

	sale, err := registrar.Register(context.Background(), scenarioSale())
	require.NoError(t, err)

	assert.NotZero(t, sale.ID)
	assert.Equal(t, "0001", sale.DocumentNumber)
	assert.True(t, sale.Total.Equal(decimal.RequireFromString("35.00")), "total %s", sale.Total)
	assert.True(t, sale.RegisteredAt.Equal(fixedNow))
	require.Len(t, sale.Items, 2)
	assert.Equal(t, 1, sale.Items[0].LineNo)
	assert.True(t, sale.Items[0].Subtotal.Equal(decimal.RequireFromString("30.00")))
	assert.Equal(t, "Coffee", sale.Items[0].ProductName)

	assert.Equal(t, 7, stockOf(t, store, productA))
	assert.Equal(t, 9, stockOf(t, store, productB))
	assert.Equal(t, int64(1), counterOf(t, store))

	pending := store.Outbox().AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventTypeSaleRegistered, pending[0].EventType)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "0001", payload["document_number"])
	assert.Equal(t, "35.00", payload["total"])
}

func TestRegister_ReadBackMatchesRegisteredSale(t *testing.T) {
	store := newStore()
	registrar := newRegistrar(store)

	sale, err := registrar.Register(context.Background(), scenarioSale())
	require.NoError(t, err)

	found, err := store.FindByDocumentNumber(context.Background(), sale.DocumentNumber)
	require.NoError(t, err)
	require.Len(t, found, 1)
	got := found[0]
	assert.Equal(t, sale.ID, got.ID)
	assert.True(t, got.Total.Equal(sale.Total))
	require.Len(t, got.Items, 2)
	for i := range got.Items {
		assert.Equal(t, sale.Items[i].ID, got.Items[i].ID)
		assert.Equal(t, sale.Items[i].ProductID, got.Items[i].ProductID)
		assert.Equal(t, sale.Items[i].Quantity, got.Items[i].Quantity)
	}
	assert.True(t, got.Total.Equal(got.ItemsTotal()))
}

func TestRegister_MissingProductLeavesStateUnchanged(t *testing.T) {
	store := newStore()
	registrar := newRegistrar(store)

	sale := scenarioSale()
	sale.Items = append(sale.Items, domain.SaleLineItem{ProductID: 99, Quantity: 1, UnitPrice: decimal.RequireFromString("1")})

	_, err := registrar.Register(context.Background(), sale)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrReferenceNotFound)
	assert.ErrorIs(t, err, domain.ErrRegistrationFailed)

	assert.Equal(t, 10, stockOf(t, store, productA))
	assert.Equal(t, 10, stockOf(t, store, productB))
	assert.Equal(t, int64(0), counterOf(t, store))
	assert.Empty(t, store.Outbox().AllPending())
}

func TestRegister_ValidationFailure(t *testing.T) {
	store := newStore()
	registrar := newRegistrar(store)

	tests := []struct {
		name string
		sale domain.Sale
		want error
	}{
		{name: "no items", sale: domain.Sale{}, want: domain.ErrItemsRequired},
		{
			name: "zero quantity",
			sale: domain.Sale{Items: []domain.SaleLineItem{{ProductID: productA, Quantity: 0, UnitPrice: decimal.NewFromInt(1)}}},
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "total mismatch",
			sale: domain.Sale{
				Total: decimal.NewFromInt(100),
				Items: []domain.SaleLineItem{{ProductID: productA, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
			},
			want: domain.ErrTotalMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registrar.Register(context.Background(), tt.sale)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidationFailed)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, domain.IsRegistrationFailure(err))
		})
	}
	assert.Equal(t, int64(0), counterOf(t, store))
}

func TestRegister_OversizedQuantitiesDoNotRaiseStock(t *testing.T) {
	store := newStore()
	registrar := newRegistrar(store)

	sales := map[string]domain.Sale{
		"overflowing duplicate lines": {Items: []domain.SaleLineItem{
			{ProductID: productA, Quantity: math.MaxInt, UnitPrice: decimal.NewFromInt(1)},
			{ProductID: productA, Quantity: math.MaxInt, UnitPrice: decimal.NewFromInt(1)},
		}},
		"single line above column range": {Items: []domain.SaleLineItem{
			{ProductID: productA, Quantity: domain.MaxItemQuantity + 1, UnitPrice: decimal.NewFromInt(1)},
		}},
	}

	for name, sale := range sales {
		t.Run(name, func(t *testing.T) {
			_, err := registrar.Register(context.Background(), sale)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidationFailed)
			assert.ErrorIs(t, err, domain.ErrItemQtyInvalid)
		})
	}
	assert.Equal(t, 10, stockOf(t, store, productA))
	assert.Equal(t, int64(0), counterOf(t, store))
}

func TestRegister_SubCentPriceRejected(t *testing.T) {
	store := newStore()
	registrar := newRegistrar(store)

	_, err := registrar.Register(context.Background(), domain.Sale{Items: []domain.SaleLineItem{
		{ProductID: productA, Quantity: 3, UnitPrice: decimal.RequireFromString("1.005")},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrItemPriceInvalid)
	assert.Equal(t, 10, stockOf(t, store, productA))
	assert.Equal(t, int64(0), counterOf(t, store))
}

func TestRegister_InsufficientStock(t *testing.T) {
	store := newStore()
	registrar := newRegistrar(store)

	// Две строки одного товара суммируются: 6 + 6 > 10.
	sale := domain.Sale{Items: []domain.SaleLineItem{
		{ProductID: productA, Quantity: 6, UnitPrice: decimal.NewFromInt(10)},
		{ProductID: productA, Quantity: 6, UnitPrice: decimal.NewFromInt(10)},
	}}

	_, err := registrar.Register(context.Background(), sale)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, err, domain.ErrRegistrationFailed)
	assert.Equal(t, 10, stockOf(t, store, productA))
	assert.Equal(t, int64(0), counterOf(t, store))
}

func TestRegister_CounterMissing(t *testing.T) {
	store := newStore()
	store.DropCounter()
	registrar := newRegistrar(store)

	_, err := registrar.Register(context.Background(), scenarioSale())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCounterMissing)
	assert.ErrorIs(t, err, domain.ErrRegistrationFailed)
	assert.Equal(t, 10, stockOf(t, store, productA))
}

func TestRegister_AtomicityOnStorageFault(t *testing.T) {
	steps := []string{
		stepFindProduct,
		stepUpdateStock,
		stepLockCounter,
		stepSaveCounter,
		stepInsertSale,
		stepAppendMovement,
		stepEnqueueOutbox,
	}

	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			store := newStore()
			faulty := &faultyStore{inner: store, failAt: step, err: errors.New("disk full")}
			registrar := newRegistrar(faulty)

			_, err := registrar.Register(context.Background(), scenarioSale())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrRegistrationFailed)
			assert.ErrorIs(t, err, faulty.err)

			assert.Equal(t, 10, stockOf(t, store, productA))
			assert.Equal(t, 10, stockOf(t, store, productB))
			assert.Equal(t, int64(0), counterOf(t, store))
			found, err := store.ListByPeriod(context.Background(), fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour))
			require.NoError(t, err)
			assert.Empty(t, found)
			assert.Empty(t, store.Outbox().AllPending())

			// После отката следующая регистрация получает первый номер без пропуска.
			sale, err := newRegistrar(store).Register(context.Background(), scenarioSale())
			require.NoError(t, err)
			assert.Equal(t, "0001", sale.DocumentNumber)
		})
	}
}

func TestRegister_Timeout(t *testing.T) {
	store := newStore()
	faulty := &faultyStore{inner: store, blockAt: stepLockCounter}
	registrar := newRegistrar(faulty, registration.WithTimeout(20*time.Millisecond))

	_, err := registrar.Register(context.Background(), scenarioSale())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRegistrationFailed)
	assert.ErrorIs(t, err, domain.ErrRegistrationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 10, stockOf(t, store, productA))
	assert.Equal(t, int64(0), counterOf(t, store))
}

func TestRegister_ConcurrentRegistrationsGetSequentialNumbers(t *testing.T) {
	const workers = 40

	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: productA, Name: "Coffee", Stock: 100, Price: decimal.NewFromInt(1)})
	store.SeedProduct(domain.Product{ID: productB, Name: "Milk", Stock: 100, Price: decimal.NewFromInt(1)})
	registrar := newRegistrar(store)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Половина продаж захватывает товары в обратном порядке строк.
			items := []domain.SaleLineItem{
				{ProductID: productA, Quantity: 1, UnitPrice: decimal.NewFromInt(1)},
				{ProductID: productB, Quantity: 2, UnitPrice: decimal.NewFromInt(1)},
			}
			if i%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}
			sale, err := registrar.Register(context.Background(), domain.Sale{Items: items})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, sale.DocumentNumber)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, numbers, workers)
	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, domain.FormatDocumentNumber(int64(i+1), 4), number)
	}
	assert.Equal(t, int64(workers), counterOf(t, store))

	// Сохранение остатков: начальный остаток минус сумма списаний.
	assert.Equal(t, 100-workers, stockOf(t, store, productA))
	assert.Equal(t, 100-2*workers, stockOf(t, store, productB))
	movements, err := store.ListStockMovements(context.Background(), productB, 1000)
	require.NoError(t, err)
	total := 0
	for _, m := range movements {
		total += m.Delta
	}
	assert.Equal(t, -2*workers, total)
}

func TestRegister_DocumentNumberWidthAndWrap(t *testing.T) {
	store := newStore()
	store.SetCounter(domain.DocumentCounter{LastNumber: 12344})
	reg := prometheus.NewRegistry()
	registrar := newRegistrar(store, registration.WithMetrics(metrics.NewSaleMetricsWithRegisterer(reg)))

	sale, err := registrar.Register(context.Background(), scenarioSale())
	require.NoError(t, err)
	assert.Equal(t, "2345", sale.DocumentNumber)

	wide := newRegistrar(store, registration.WithDocumentNumberWidth(8))
	sale, err = wide.Register(context.Background(), scenarioSale())
	require.NoError(t, err)
	assert.Equal(t, "00012346", sale.DocumentNumber)
}

func TestRegister_DoesNotMutateInput(t *testing.T) {
	store := newStore()
	registrar := newRegistrar(store)

	input := scenarioSale()
	_, err := registrar.Register(context.Background(), input)
	require.NoError(t, err)

	assert.Zero(t, input.Items[0].LineNo)
	assert.True(t, input.Items[0].Subtotal.IsZero())
	assert.Empty(t, input.DocumentNumber)
}
