package registration_test

import (
	"context"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const (
	stepFindProduct    = "find_product"
	stepUpdateStock    = "update_stock"
	stepLockCounter    = "lock_counter"
	stepSaveCounter    = "save_counter"
	stepInsertSale     = "insert_sale"
	stepAppendMovement = "append_movement"
	stepEnqueueOutbox  = "enqueue_outbox"
)

// faultyStore оборачивает хранилище и ломает выбранный шаг транзакции.
type faultyStore struct {
	inner   domain.SaleStore
	failAt  string
	blockAt string
	err     error
}

func (s *faultyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.SaleTx) error) error {
	return s.inner.WithinTx(ctx, func(ctx context.Context, tx domain.SaleTx) error {
		return fn(ctx, &faultyTx{inner: tx, store: s})
	})
}

type faultyTx struct {
	inner domain.SaleTx
	store *faultyStore
}

func (tx *faultyTx) hit(ctx context.Context, step string) error {
	if tx.store.blockAt == step {
		<-ctx.Done()
		return ctx.Err()
	}
	if tx.store.failAt == step {
		return tx.store.err
	}
	return nil
}

func (tx *faultyTx) FindProductForUpdate(ctx context.Context, id int64) (domain.Product, error) {
	if err := tx.hit(ctx, stepFindProduct); err != nil {
		return domain.Product{}, err
	}
	return tx.inner.FindProductForUpdate(ctx, id)
}

func (tx *faultyTx) UpdateProductStock(ctx context.Context, id int64, stock int) error {
	if err := tx.inner.UpdateProductStock(ctx, id, stock); err != nil {
		return err
	}
	// Сбой после первой записи проверяет откат уже применённых изменений.
	return tx.hit(ctx, stepUpdateStock)
}

func (tx *faultyTx) LockDocumentCounter(ctx context.Context) (domain.DocumentCounter, error) {
	if err := tx.hit(ctx, stepLockCounter); err != nil {
		return domain.DocumentCounter{}, err
	}
	return tx.inner.LockDocumentCounter(ctx)
}

func (tx *faultyTx) SaveDocumentCounter(ctx context.Context, counter domain.DocumentCounter) error {
	if err := tx.inner.SaveDocumentCounter(ctx, counter); err != nil {
		return err
	}
	return tx.hit(ctx, stepSaveCounter)
}

func (tx *faultyTx) InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	if err := tx.hit(ctx, stepInsertSale); err != nil {
		return domain.Sale{}, err
	}
	return tx.inner.InsertSale(ctx, sale)
}

func (tx *faultyTx) AppendStockMovement(ctx context.Context, movement domain.StockMovement) error {
	if err := tx.hit(ctx, stepAppendMovement); err != nil {
		return err
	}
	return tx.inner.AppendStockMovement(ctx, movement)
}

func (tx *faultyTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if err := tx.hit(ctx, stepEnqueueOutbox); err != nil {
		return err
	}
	return tx.inner.EnqueueOutbox(ctx, msg)
}
