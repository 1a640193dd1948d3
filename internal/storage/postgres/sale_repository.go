package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

const documentCounterID = 1

// WithinTx выполняет fn в транзакции READ COMMITTED. Строки товаров и счётчика
// читаются через SELECT ... FOR UPDATE и остаются заблокированными до commit/rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.SaleTx) error) (err error) {
	if err = s.ready(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &saleTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type saleTx struct {
	tx *sql.Tx
}

func (t *saleTx) FindProductForUpdate(ctx context.Context, productID int64) (domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, stock, price
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&p.ID, &p.Name, &p.Stock, &p.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, fmt.Errorf("%w: product %d", domain.ErrReferenceNotFound, productID)
		}
		return domain.Product{}, fmt.Errorf("select product for update: %w", err)
	}
	return p, nil
}

func (t *saleTx) UpdateProductStock(ctx context.Context, productID int64, stock int) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET stock = $2 WHERE id = $1`, productID, stock)
	if err != nil {
		if pgErrorCode(err) == pgCheckViolation {
			return fmt.Errorf("%w: product %d", domain.ErrInsufficientStock, productID)
		}
		return fmt.Errorf("update product stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for product stock: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %d", domain.ErrReferenceNotFound, productID)
	}
	return nil
}

func (t *saleTx) LockDocumentCounter(ctx context.Context) (domain.DocumentCounter, error) {
	var (
		counter   domain.DocumentCounter
		updatedAt sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT last_number, last_updated_at
		FROM document_counters
		WHERE id = $1
		FOR UPDATE
	`, documentCounterID).Scan(&counter.LastNumber, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DocumentCounter{}, domain.ErrCounterMissing
		}
		return domain.DocumentCounter{}, fmt.Errorf("select document counter for update: %w", err)
	}
	if updatedAt.Valid {
		counter.LastUpdatedAt = updatedAt.Time.UTC()
	}
	return counter, nil
}

func (t *saleTx) SaveDocumentCounter(ctx context.Context, counter domain.DocumentCounter) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE document_counters
		SET last_number = $2,
		    last_updated_at = $3
		WHERE id = $1
	`, documentCounterID, counter.LastNumber, counter.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("update document counter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for document counter: %w", err)
	}
	if affected == 0 {
		return domain.ErrCounterMissing
	}
	return nil
}

func (t *saleTx) InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	if err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (document_number, payment_type, registered_at, total)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, sale.DocumentNumber, sale.PaymentType, sale.RegisteredAt, sale.Total).Scan(&sale.ID); err != nil {
		return domain.Sale{}, fmt.Errorf("insert sale: %w", err)
	}

	items := make([]domain.SaleLineItem, len(sale.Items))
	for i, item := range sale.Items {
		if err := t.tx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id
		`, sale.ID, item.LineNo, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal).Scan(&item.ID); err != nil {
			return domain.Sale{}, fmt.Errorf("insert sale item %d: %w", item.LineNo, err)
		}
		items[i] = item
	}
	sale.Items = items

	return sale, nil
}

func (t *saleTx) AppendStockMovement(ctx context.Context, m domain.StockMovement) error {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_movements (product_id, sale_id, delta, stock_after, occurred_at)
		VALUES ($1,$2,$3,$4,$5)
	`, m.ProductID, m.SaleID, m.Delta, m.StockAfter, m.Occurred); err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

func (t *saleTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,0,$7,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		string(domain.OutboxStatusPending), now,
	); err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

var (
	_ domain.SaleStore = (*Store)(nil)
	_ domain.SaleTx    = (*saleTx)(nil)
)
