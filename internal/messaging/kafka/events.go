package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/sales/internal/domain"
)

// Топики по умолчанию.
const (
	TopicSaleEvents      = "pos.sale.events"
	TopicDeadLetterQueue = "pos.sale.dlq"
)

// Заголовки сообщений. Последние три выставляются только в DLQ.
const (
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// SaleLineEvent — позиция продажи в событии.
type SaleLineEvent struct {
	LineNo    int    `json:"line_no"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

// SaleRegisteredEvent публикуется после фиксации продажи.
type SaleRegisteredEvent struct {
	SaleID         int64           `json:"sale_id"`
	DocumentNumber string          `json:"document_number"`
	PaymentType    string          `json:"payment_type,omitempty"`
	Total          string          `json:"total"`
	RegisteredAt   time.Time       `json:"registered_at"`
	Items          []SaleLineEvent `json:"items"`
}

// NewSaleRegisteredEvent собирает событие из зафиксированной продажи.
func NewSaleRegisteredEvent(sale domain.Sale) *SaleRegisteredEvent {
	items := make([]SaleLineEvent, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, SaleLineEvent{
			LineNo:    item.LineNo,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Subtotal:  item.Subtotal.StringFixed(2),
		})
	}
	return &SaleRegisteredEvent{
		SaleID:         sale.ID,
		DocumentNumber: sale.DocumentNumber,
		PaymentType:    sale.PaymentType,
		Total:          sale.Total.StringFixed(2),
		RegisteredAt:   sale.RegisteredAt.UTC(),
		Items:          items,
	}
}
