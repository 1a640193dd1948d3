package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxItemQuantity ограничивает количество по товару в одной продаже
	// разрядностью колонок quantity и stock (INTEGER).
	MaxItemQuantity = math.MaxInt32
	// MoneyScale — число знаков после запятой в NUMERIC(14,2).
	MoneyScale = 2
)

// SaleLineItem представляет одну позицию продажи.
type SaleLineItem struct {
	// ID присваивается хранилищем при регистрации.
	ID int64
	// LineNo — порядковый номер позиции внутри продажи (с единицы).
	LineNo    int
	ProductID int64
	// ProductName заполняется только при чтении.
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// Sale агрегирует шапку продажи и её позиции.
type Sale struct {
	ID             int64
	DocumentNumber string
	PaymentType    string
	RegisteredAt   time.Time
	Total          decimal.Decimal
	Items          []SaleLineItem
}

// ValidateInvariants проверяет входные данные продажи и возвращает список замечаний.
// Нулевой Total допустим: его заполняет ApplyTotals.
func (s *Sale) ValidateInvariants() []error {
	var errs []error

	if len(s.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	calc := decimal.Zero
	perProduct := make(map[int64]int64, len(s.Items))
	qtyOverflow := false
	for _, item := range s.Items {
		if item.ProductID <= 0 {
			errs = append(errs, ErrProductIDInvalid)
		}
		if item.Quantity <= 0 || item.Quantity > MaxItemQuantity {
			errs = append(errs, ErrItemQtyInvalid)
		} else {
			perProduct[item.ProductID] += int64(item.Quantity)
			if perProduct[item.ProductID] > MaxItemQuantity {
				qtyOverflow = true
			}
		}
		if item.UnitPrice.IsNegative() || !item.UnitPrice.Equal(item.UnitPrice.Round(MoneyScale)) {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc = calc.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if qtyOverflow {
		errs = append(errs, fmt.Errorf("%w: product total exceeds %d", ErrItemQtyInvalid, MaxItemQuantity))
	}
	if !s.Total.IsZero() && !s.Total.Equal(calc) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// ApplyTotals пересчитывает подытоги, номера строк и итог продажи.
func (s *Sale) ApplyTotals() {
	total := decimal.Zero
	for i := range s.Items {
		item := &s.Items[i]
		item.LineNo = i + 1
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Subtotal)
	}
	s.Total = total
}

// QuantitiesByProduct суммирует количество по товарам (одна продажа может
// содержать несколько строк одного товара). Сумма сверх MaxItemQuantity
// возвращает ErrItemQtyInvalid.
func (s *Sale) QuantitiesByProduct() (map[int64]int, error) {
	result := make(map[int64]int, len(s.Items))
	for _, item := range s.Items {
		if item.Quantity <= 0 || item.Quantity > MaxItemQuantity-result[item.ProductID] {
			return nil, fmt.Errorf("%w: product %d", ErrItemQtyInvalid, item.ProductID)
		}
		result[item.ProductID] += item.Quantity
	}
	return result, nil
}

// ItemsTotal возвращает сумму подытогов позиций.
func (s *Sale) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.Subtotal)
	}
	return total
}
