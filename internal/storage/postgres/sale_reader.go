package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// FindByDocumentNumber возвращает продажи с указанным номером документа.
func (s *Store) FindByDocumentNumber(ctx context.Context, number string) ([]domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_number, payment_type, registered_at, total
		FROM sales
		WHERE document_number = $1
		ORDER BY id
	`, number)
	if err != nil {
		return nil, fmt.Errorf("query sales by document number: %w", err)
	}
	sales, err := scanSales(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

// ListByPeriod возвращает продажи с registered_at в [from, to).
func (s *Store) ListByPeriod(ctx context.Context, from, to time.Time) ([]domain.Sale, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_number, payment_type, registered_at, total
		FROM sales
		WHERE registered_at >= $1 AND registered_at < $2
		ORDER BY registered_at, id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query sales by period: %w", err)
	}
	sales, err := scanSales(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

// ListReportLines возвращает позиции продаж за период вместе с шапкой и названием товара.
func (s *Store) ListReportLines(ctx context.Context, from, to time.Time) ([]domain.ReportLine, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.document_number, s.payment_type, s.registered_at, s.total,
		       si.product_id, p.name, si.quantity, si.unit_price, si.subtotal
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		JOIN products p ON p.id = si.product_id
		WHERE s.registered_at >= $1 AND s.registered_at < $2
		ORDER BY s.registered_at, s.id, si.line_no
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query report lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.ReportLine, 0)
	for rows.Next() {
		var line domain.ReportLine
		if err := rows.Scan(
			&line.SaleID,
			&line.DocumentNumber,
			&line.PaymentType,
			&line.RegisteredAt,
			&line.SaleTotal,
			&line.ProductID,
			&line.ProductName,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
		); err != nil {
			return nil, fmt.Errorf("scan report line: %w", err)
		}
		line.RegisteredAt = line.RegisteredAt.UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report lines: %w", err)
	}
	return lines, nil
}

// LatestRegisteredAt возвращает время последней продажи.
func (s *Store) LatestRegisteredAt(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(registered_at) FROM sales`).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest sale: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

func scanSales(rows *sql.Rows) ([]domain.Sale, error) {
	defer rows.Close()

	sales := make([]domain.Sale, 0)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(
			&sale.ID,
			&sale.DocumentNumber,
			&sale.PaymentType,
			&sale.RegisteredAt,
			&sale.Total,
		); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sale.RegisteredAt = sale.RegisteredAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return sales, nil
}

// attachItems загружает позиции для продаж одним запросом.
func (s *Store) attachItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}

	ids := make([]int64, len(sales))
	index := make(map[int64]int, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
		index[sale.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.line_no, si.product_id, p.name,
		       si.quantity, si.unit_price, si.subtotal
		FROM sale_items si
		JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = ANY($1)
		ORDER BY si.sale_id, si.line_no
	`, ids)
	if err != nil {
		return fmt.Errorf("query sale items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item   domain.SaleLineItem
			saleID int64
		)
		if err := rows.Scan(
			&item.ID,
			&saleID,
			&item.LineNo,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
		); err != nil {
			return fmt.Errorf("scan sale item: %w", err)
		}
		i := index[saleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sale items: %w", err)
	}
	return nil
}

var _ domain.SaleReader = (*Store)(nil)
