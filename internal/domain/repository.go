package domain

import (
	"context"
	"time"
)

// SaleTx — операции, доступные внутри транзакции регистрации продажи.
// Реализация обязана держать блокировку строк товаров и счётчика до конца транзакции.
type SaleTx interface {
	// FindProductForUpdate возвращает товар и блокирует его строку;
	// ErrReferenceNotFound, если товара нет.
	FindProductForUpdate(ctx context.Context, productID int64) (Product, error)
	// UpdateProductStock записывает новый остаток товара.
	UpdateProductStock(ctx context.Context, productID int64, stock int) error
	// LockDocumentCounter читает и блокирует строку счётчика.
	LockDocumentCounter(ctx context.Context) (DocumentCounter, error)
	// SaveDocumentCounter сохраняет продвинутый счётчик.
	SaveDocumentCounter(ctx context.Context, counter DocumentCounter) error
	// InsertSale сохраняет шапку и все позиции одной составной записью,
	// возвращает продажу с присвоенными идентификаторами.
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	// AppendStockMovement добавляет запись в журнал движения остатков.
	AppendStockMovement(ctx context.Context, movement StockMovement) error
	// EnqueueOutbox кладёт событие в transactional outbox.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// SaleStore открывает транзакцию регистрации продажи.
type SaleStore interface {
	// WithinTx выполняет fn в одной транзакции: nil — commit,
	// ошибка или panic — rollback.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx SaleTx) error) error
}

// SaleReader — read-only доступ к зарегистрированным продажам.
type SaleReader interface {
	// FindByDocumentNumber возвращает продажи с данным номером (после переполнения
	// ширины номера их может быть несколько), позиции в порядке добавления.
	FindByDocumentNumber(ctx context.Context, number string) ([]Sale, error)
	// ListByPeriod возвращает продажи с RegisteredAt в [from, to).
	ListByPeriod(ctx context.Context, from, to time.Time) ([]Sale, error)
	// ListReportLines возвращает позиции продаж с RegisteredAt в [from, to).
	ListReportLines(ctx context.Context, from, to time.Time) ([]ReportLine, error)
	// LatestRegisteredAt возвращает время последней продажи; false, если продаж нет.
	LatestRegisteredAt(ctx context.Context) (time.Time, bool, error)
}

// ProductReader — чтение товаров и журнала остатков.
type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	CountProducts(ctx context.Context) (int, error)
	ListStockMovements(ctx context.Context, productID int64, limit int) ([]StockMovement, error)
}
