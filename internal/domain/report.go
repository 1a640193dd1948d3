package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportLine — строка отчёта: позиция продажи вместе с шапкой и товаром.
type ReportLine struct {
	SaleID         int64
	DocumentNumber string
	PaymentType    string
	RegisteredAt   time.Time
	SaleTotal      decimal.Decimal
	ProductID      int64
	ProductName    string
	Quantity       int
	UnitPrice      decimal.Decimal
	Subtotal       decimal.Decimal
}

// DailySales — количество продаж за календарный день.
type DailySales struct {
	Date  time.Time
	Count int
}

// DashboardSummary — сводка по продажам за последнюю неделю.
type DashboardSummary struct {
	SalesCount   int
	Revenue      decimal.Decimal
	ProductCount int
	Daily        []DailySales
	GeneratedAt  time.Time
}
