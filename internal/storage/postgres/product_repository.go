package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// GetProduct возвращает товар по идентификатору.
func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, stock, price
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Stock, &p.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// CountProducts возвращает количество товаров в каталоге.
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return count, nil
}

// ListStockMovements возвращает последние движения остатка товара.
func (s *Store) ListStockMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, sale_id, delta, stock_after, occurred_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query stock movements: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ProductID, &m.SaleID, &m.Delta, &m.StockAfter, &m.Occurred); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Occurred = m.Occurred.UTC()
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}
	return result, nil
}

// UpsertProduct создаёт товар или обновляет его название, остаток и цену.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, stock, price)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    stock = EXCLUDED.stock,
		    price = EXCLUDED.price
	`, p.ID, p.Name, p.Stock, p.Price); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.ProductReader = (*Store)(nil)
