package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Store — in-memory хранилище товаров, счётчика и продаж.
// Транзакции регистрации сериализуются одним мьютексом на весь Store;
// изменения копятся в saleTx и применяются только при commit.
type Store struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	products   map[int64]domain.Product
	counter    *domain.DocumentCounter
	sales      []domain.Sale
	movements  []domain.StockMovement
	nextSaleID int64
	nextItemID int64

	outbox *OutboxRepository
}

// NewStore создаёт пустое хранилище с нулевым счётчиком номеров документов.
func NewStore() *Store {
	return &Store{
		products:   make(map[int64]domain.Product),
		counter:    &domain.DocumentCounter{},
		nextSaleID: 1,
		nextItemID: 1,
		outbox:     NewOutboxRepository(),
	}
}

// SeedProduct добавляет или заменяет товар (для локального запуска и тестов).
func (s *Store) SeedProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// UpsertProduct добавляет или заменяет товар.
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.SeedProduct(p)
	return nil
}

// SetCounter выставляет значение счётчика номеров документов.
func (s *Store) SetCounter(c domain.DocumentCounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = &c
}

// DropCounter удаляет строку счётчика (используется в тестах аварийных сценариев).
func (s *Store) DropCounter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = nil
}

// Counter возвращает текущее значение счётчика.
func (s *Store) Counter() (domain.DocumentCounter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.counter == nil {
		return domain.DocumentCounter{}, false
	}
	return *s.counter, true
}

// Outbox возвращает outbox, в который пишут транзакции регистрации.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

// WithinTx выполняет fn в транзакции. Ошибка fn, panic или истёкший контекст
// к моменту commit отбрасывают все накопленные изменения.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.SaleTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	tx := &saleTx{
		store:      s,
		products:   make(map[int64]domain.Product),
		nextSaleID: s.nextSaleID,
		nextItemID: s.nextItemID,
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *saleTx) {
	s.mu.Lock()
	for id, p := range tx.products {
		s.products[id] = p
	}
	if tx.counter != nil {
		c := *tx.counter
		s.counter = &c
	}
	s.sales = append(s.sales, tx.sales...)
	s.movements = append(s.movements, tx.movements...)
	s.nextSaleID = tx.nextSaleID
	s.nextItemID = tx.nextItemID
	s.mu.Unlock()

	s.outbox.enqueue(tx.outbox)
}

// FindByDocumentNumber возвращает продажи с указанным номером документа.
func (s *Store) FindByDocumentNumber(ctx context.Context, number string) ([]domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 1)
	for _, sale := range s.sales {
		if sale.DocumentNumber == number {
			result = append(result, s.readSale(sale))
		}
	}
	return result, nil
}

// ListByPeriod возвращает продажи с RegisteredAt в [from, to) по возрастанию времени.
func (s *Store) ListByPeriod(ctx context.Context, from, to time.Time) ([]domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0)
	for _, sale := range s.sales {
		if inPeriod(sale.RegisteredAt, from, to) {
			result = append(result, s.readSale(sale))
		}
	}
	sortSales(result)
	return result, nil
}

// ListReportLines возвращает позиции продаж за период.
func (s *Store) ListReportLines(ctx context.Context, from, to time.Time) ([]domain.ReportLine, error) {
	sales, err := s.ListByPeriod(ctx, from, to)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.ReportLine, 0, len(sales))
	for _, sale := range sales {
		for _, item := range sale.Items {
			lines = append(lines, domain.ReportLine{
				SaleID:         sale.ID,
				DocumentNumber: sale.DocumentNumber,
				PaymentType:    sale.PaymentType,
				RegisteredAt:   sale.RegisteredAt,
				SaleTotal:      sale.Total,
				ProductID:      item.ProductID,
				ProductName:    item.ProductName,
				Quantity:       item.Quantity,
				UnitPrice:      item.UnitPrice,
				Subtotal:       item.Subtotal,
			})
		}
	}
	return lines, nil
}

// LatestRegisteredAt возвращает время самой поздней продажи.
func (s *Store) LatestRegisteredAt(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for _, sale := range s.sales {
		if !found || sale.RegisteredAt.After(latest) {
			latest = sale.RegisteredAt
			found = true
		}
	}
	return latest, found, nil
}

// GetProduct возвращает товар или ErrProductNotFound.
func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// CountProducts возвращает количество товаров в каталоге.
func (s *Store) CountProducts(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

// ListStockMovements возвращает движения остатка товара, новые первыми.
func (s *Store) ListStockMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(result) < limit; i-- {
		if s.movements[i].ProductID == productID {
			result = append(result, s.movements[i])
		}
	}
	return result, nil
}

// readSale копирует продажу и подставляет актуальные названия товаров. Вызывается под s.mu.
func (s *Store) readSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = make([]domain.SaleLineItem, len(src.Items))
	for i, item := range src.Items {
		if p, ok := s.products[item.ProductID]; ok {
			item.ProductName = p.Name
		}
		dst.Items[i] = item
	}
	return dst
}

func inPeriod(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

func sortSales(sales []domain.Sale) {
	sort.SliceStable(sales, func(i, j int) bool {
		if sales[i].RegisteredAt.Equal(sales[j].RegisteredAt) {
			return sales[i].ID < sales[j].ID
		}
		return sales[i].RegisteredAt.Before(sales[j].RegisteredAt)
	})
}

// saleTx копит изменения одной транзакции регистрации.
type saleTx struct {
	store *Store

	products   map[int64]domain.Product
	counter    *domain.DocumentCounter
	sales      []domain.Sale
	movements  []domain.StockMovement
	outbox     []domain.OutboxMessage
	nextSaleID int64
	nextItemID int64
}

func (tx *saleTx) FindProductForUpdate(ctx context.Context, productID int64) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	if p, ok := tx.products[productID]; ok {
		return p, nil
	}

	tx.store.mu.RLock()
	p, ok := tx.store.products[productID]
	tx.store.mu.RUnlock()
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: product %d", domain.ErrReferenceNotFound, productID)
	}
	tx.products[productID] = p
	return p, nil
}

func (tx *saleTx) UpdateProductStock(ctx context.Context, productID int64, stock int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := tx.products[productID]
	if !ok {
		return fmt.Errorf("product %d is not locked in this transaction", productID)
	}
	p.Stock = stock
	tx.products[productID] = p
	return nil
}

func (tx *saleTx) LockDocumentCounter(ctx context.Context) (domain.DocumentCounter, error) {
	if err := ctx.Err(); err != nil {
		return domain.DocumentCounter{}, err
	}
	if tx.counter != nil {
		return *tx.counter, nil
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	if tx.store.counter == nil {
		return domain.DocumentCounter{}, domain.ErrCounterMissing
	}
	c := *tx.store.counter
	tx.counter = &c
	return c, nil
}

func (tx *saleTx) SaveDocumentCounter(ctx context.Context, counter domain.DocumentCounter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.counter == nil {
		return fmt.Errorf("document counter is not locked in this transaction")
	}
	tx.counter = &counter
	return nil
}

func (tx *saleTx) InsertSale(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return domain.Sale{}, err
	}

	stored := sale
	stored.ID = tx.nextSaleID
	tx.nextSaleID++
	stored.Items = make([]domain.SaleLineItem, len(sale.Items))
	for i, item := range sale.Items {
		item.ID = tx.nextItemID
		tx.nextItemID++
		item.ProductName = ""
		stored.Items[i] = item
	}
	tx.sales = append(tx.sales, stored)

	result := stored
	result.Items = make([]domain.SaleLineItem, len(stored.Items))
	for i, item := range stored.Items {
		item.ProductName = sale.Items[i].ProductName
		result.Items[i] = item
	}
	return result, nil
}

func (tx *saleTx) AppendStockMovement(ctx context.Context, movement domain.StockMovement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.movements = append(tx.movements, movement)
	return nil
}

func (tx *saleTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	tx.outbox = append(tx.outbox, msg)
	return nil
}

var (
	_ domain.SaleStore     = (*Store)(nil)
	_ domain.SaleReader    = (*Store)(nil)
	_ domain.ProductReader = (*Store)(nil)
	_ domain.SaleTx        = (*saleTx)(nil)
)
