package domain

import "github.com/shopspring/decimal"

// Product — товар с текущим складским остатком.
type Product struct {
	ID    int64
	Name  string
	Stock int
	Price decimal.Decimal
}

// CanFulfil сообщает, хватает ли остатка на qty единиц. Неположительное qty не списывается.
func (p Product) CanFulfil(qty int) bool {
	return qty > 0 && qty <= p.Stock
}
