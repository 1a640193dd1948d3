package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/storage/memory"
)

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: 1, Name: "Coffee", Stock: 10, Price: decimal.RequireFromString("10.00")})
	store.SeedProduct(domain.Product{ID: 2, Name: "Milk", Stock: 10, Price: decimal.RequireFromString("5.00")})
	return store
}

func insertSale(t *testing.T, store *memory.Store, number string, at time.Time) domain.Sale {
	t.Helper()
	var saved domain.Sale
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.SaleTx) error {
		sale := domain.Sale{
			DocumentNumber: number,
			RegisteredAt:   at,
			Items: []domain.SaleLineItem{
				{ProductID: 1, Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
				{ProductID: 2, Quantity: 2, UnitPrice: decimal.RequireFromString("5.00")},
			},
		}
		sale.ApplyTotals()
		var err error
		saved, err = tx.InsertSale(ctx, sale)
		return err
	})
	require.NoError(t, err)
	return saved
}

func TestStore_CommitAppliesStagedChanges(t *testing.T) {
	store := seededStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.SaleTx) error {
		p, err := tx.FindProductForUpdate(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, tx.UpdateProductStock(ctx, 1, p.Stock-3))

		counter, err := tx.LockDocumentCounter(ctx)
		require.NoError(t, err)
		counter.Advance(now)
		require.NoError(t, tx.SaveDocumentCounter(ctx, counter))

		require.NoError(t, tx.AppendStockMovement(ctx, domain.StockMovement{ProductID: 1, SaleID: 1, Delta: -3, StockAfter: 7, Occurred: now}))
		return tx.EnqueueOutbox(ctx, domain.OutboxMessage{AggregateType: domain.AggregateTypeSale, AggregateID: "1"})
	})
	require.NoError(t, err)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	counter, ok := store.Counter()
	require.True(t, ok)
	assert.Equal(t, int64(1), counter.LastNumber)
	assert.True(t, counter.LastUpdatedAt.Equal(now))

	movements, err := store.ListStockMovements(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, -3, movements[0].Delta)

	assert.Len(t, store.Outbox().AllPending(), 1)
}

func TestStore_RollbackOnError(t *testing.T) {
	store := seededStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.SaleTx) error {
		_, err := tx.FindProductForUpdate(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, tx.UpdateProductStock(ctx, 1, 0))
		require.NoError(t, tx.EnqueueOutbox(ctx, domain.OutboxMessage{AggregateID: "1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
	assert.Empty(t, store.Outbox().AllPending())
}

func TestStore_RollbackOnPanic(t *testing.T) {
	store := seededStore()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = store.WithinTx(ctx, func(ctx context.Context, tx domain.SaleTx) error {
			counter, err := tx.LockDocumentCounter(ctx)
			require.NoError(t, err)
			counter.Advance(time.Now())
			require.NoError(t, tx.SaveDocumentCounter(ctx, counter))
			panic("unexpected")
		})
	})

	counter, ok := store.Counter()
	require.True(t, ok)
	assert.Equal(t, int64(0), counter.LastNumber)

	// Мьютекс транзакции освобождён после panic.
	insertSale(t, store, "0001", time.Now().UTC())
}

func TestStore_FindProductForUpdate_Missing(t *testing.T) {
	store := seededStore()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.SaleTx) error {
		_, err := tx.FindProductForUpdate(ctx, 99)
		return err
	})
	require.ErrorIs(t, err, domain.ErrReferenceNotFound)
}

func TestStore_LockDocumentCounter_Missing(t *testing.T) {
	store := seededStore()
	store.DropCounter()

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.SaleTx) error {
		_, err := tx.LockDocumentCounter(ctx)
		return err
	})
	require.ErrorIs(t, err, domain.ErrCounterMissing)
}

func TestStore_CommitFailsAfterDeadline(t *testing.T) {
	store := seededStore()
	ctx, cancel := context.WithCancel(context.Background())

	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.SaleTx) error {
		_, err := tx.InsertSale(ctx, domain.Sale{DocumentNumber: "0001"})
		require.NoError(t, err)
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	sales, err := store.FindByDocumentNumber(context.Background(), "0001")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestStore_ReadBackPreservesItemOrder(t *testing.T) {
	store := seededStore()
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	saved := insertSale(t, store, "0001", at)
	require.NotZero(t, saved.ID)
	require.Len(t, saved.Items, 2)
	assert.NotZero(t, saved.Items[0].ID)
	assert.Less(t, saved.Items[0].ID, saved.Items[1].ID)

	sales, err := store.FindByDocumentNumber(ctx, "0001")
	require.NoError(t, err)
	require.Len(t, sales, 1)
	got := sales[0]
	assert.Equal(t, saved.ID, got.ID)
	require.Len(t, got.Items, 2)
	assert.Equal(t, int64(1), got.Items[0].ProductID)
	assert.Equal(t, "Coffee", got.Items[0].ProductName)
	assert.Equal(t, int64(2), got.Items[1].ProductID)
	assert.Equal(t, "Milk", got.Items[1].ProductName)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("20.00")))
}

func TestStore_ListByPeriodHalfOpen(t *testing.T) {
	store := seededStore()
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	insertSale(t, store, "0001", day)
	insertSale(t, store, "0002", day.Add(23*time.Hour))
	insertSale(t, store, "0003", day.Add(24*time.Hour))

	sales, err := store.ListByPeriod(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "0001", sales[0].DocumentNumber)
	assert.Equal(t, "0002", sales[1].DocumentNumber)

	lines, err := store.ListReportLines(ctx, day, day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, lines, 6)
	assert.Equal(t, "Coffee", lines[0].ProductName)

	latest, ok, err := store.LatestRegisteredAt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, latest.Equal(day.Add(24*time.Hour)))
}

func TestStore_LatestRegisteredAt_Empty(t *testing.T) {
	store := memory.NewStore()

	_, ok, err := store.LatestRegisteredAt(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := store.CountProducts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = store.GetProduct(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}
