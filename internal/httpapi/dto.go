package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/service/history"
)

// envelope — общий формат ответа API.
type envelope struct {
	Status  bool   `json:"status"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// RegisterSaleRequest — тело POST /api/sales.
type RegisterSaleRequest struct {
	PaymentType string             `json:"payment_type"`
	Total       decimal.Decimal    `json:"total"`
	Items       []RegisterSaleItem `json:"items"`
}

// RegisterSaleItem — позиция в запросе регистрации.
type RegisterSaleItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (r RegisterSaleRequest) toDomain() domain.Sale {
	sale := domain.Sale{
		PaymentType: r.PaymentType,
		Total:       r.Total,
		Items:       make([]domain.SaleLineItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		sale.Items = append(sale.Items, domain.SaleLineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return sale
}

// SaleResponse — продажа в ответах API.
type SaleResponse struct {
	ID             int64              `json:"id"`
	DocumentNumber string             `json:"document_number"`
	PaymentType    string             `json:"payment_type,omitempty"`
	RegisteredAt   string             `json:"registered_at"`
	Total          string             `json:"total"`
	Items          []SaleItemResponse `json:"items"`
}

// SaleItemResponse — позиция продажи в ответах API.
type SaleItemResponse struct {
	ID          int64  `json:"id"`
	LineNo      int    `json:"line_no"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

// ReportLineResponse — строка отчёта.
type ReportLineResponse struct {
	SaleID         int64  `json:"sale_id"`
	DocumentNumber string `json:"document_number"`
	PaymentType    string `json:"payment_type,omitempty"`
	RegisteredAt   string `json:"registered_at"`
	SaleTotal      string `json:"sale_total"`
	ProductID      int64  `json:"product_id"`
	ProductName    string `json:"product_name"`
	Quantity       int    `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	Subtotal       string `json:"subtotal"`
}

// SummaryResponse — сводка dashboard.
type SummaryResponse struct {
	SalesCount   int                  `json:"sales_count"`
	Revenue      string               `json:"revenue"`
	ProductCount int                  `json:"product_count"`
	Daily        []DailySalesResponse `json:"daily"`
	GeneratedAt  string               `json:"generated_at"`
}

// DailySalesResponse — число продаж за день.
type DailySalesResponse struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ProductResponse — товар с остатком.
type ProductResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
	Price string `json:"price"`
}

// StockMovementResponse — запись журнала остатков.
type StockMovementResponse struct {
	ProductID  int64  `json:"product_id"`
	SaleID     int64  `json:"sale_id"`
	Delta      int    `json:"delta"`
	StockAfter int    `json:"stock_after"`
	OccurredAt string `json:"occurred_at"`
}

func toSaleResponse(sale domain.Sale) SaleResponse {
	resp := SaleResponse{
		ID:             sale.ID,
		DocumentNumber: sale.DocumentNumber,
		PaymentType:    sale.PaymentType,
		RegisteredAt:   formatTimestamp(sale.RegisteredAt),
		Total:          sale.Total.StringFixed(2),
		Items:          make([]SaleItemResponse, 0, len(sale.Items)),
	}
	for _, item := range sale.Items {
		resp.Items = append(resp.Items, SaleItemResponse{
			ID:          item.ID,
			LineNo:      item.LineNo,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			Subtotal:    item.Subtotal.StringFixed(2),
		})
	}
	return resp
}

func toSaleResponses(sales []domain.Sale) []SaleResponse {
	out := make([]SaleResponse, 0, len(sales))
	for _, sale := range sales {
		out = append(out, toSaleResponse(sale))
	}
	return out
}

func toReportResponses(lines []domain.ReportLine) []ReportLineResponse {
	out := make([]ReportLineResponse, 0, len(lines))
	for _, line := range lines {
		out = append(out, ReportLineResponse{
			SaleID:         line.SaleID,
			DocumentNumber: line.DocumentNumber,
			PaymentType:    line.PaymentType,
			RegisteredAt:   formatTimestamp(line.RegisteredAt),
			SaleTotal:      line.SaleTotal.StringFixed(2),
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice.StringFixed(2),
			Subtotal:       line.Subtotal.StringFixed(2),
		})
	}
	return out
}

func toSummaryResponse(summary domain.DashboardSummary) SummaryResponse {
	resp := SummaryResponse{
		SalesCount:   summary.SalesCount,
		Revenue:      summary.Revenue.StringFixed(2),
		ProductCount: summary.ProductCount,
		Daily:        make([]DailySalesResponse, 0, len(summary.Daily)),
		GeneratedAt:  formatTimestamp(summary.GeneratedAt),
	}
	for _, day := range summary.Daily {
		resp.Daily = append(resp.Daily, DailySalesResponse{
			Date:  day.Date.UTC().Format(history.DateLayout),
			Count: day.Count,
		})
	}
	return resp
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:    p.ID,
		Name:  p.Name,
		Stock: p.Stock,
		Price: p.Price.StringFixed(2),
	}
}

func toMovementResponses(movements []domain.StockMovement) []StockMovementResponse {
	out := make([]StockMovementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, StockMovementResponse{
			ProductID:  m.ProductID,
			SaleID:     m.SaleID,
			Delta:      m.Delta,
			StockAfter: m.StockAfter,
			OccurredAt: formatTimestamp(m.Occurred),
		})
	}
	return out
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
