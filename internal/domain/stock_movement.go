package domain

import "time"

// StockMovement фиксирует изменение остатка товара в рамках продажи.
type StockMovement struct {
	ProductID  int64
	SaleID     int64
	Delta      int
	StockAfter int
	Occurred   time.Time
}
