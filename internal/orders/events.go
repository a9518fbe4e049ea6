package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventOrderFailed    = "OrderFailed"
	EventOrderCancelled = "OrderCancelled"
	EventOrderExpired   = "OrderExpired"
	EventOrderCompleted = "OrderCompleted"
	EventOrderRefunded  = "OrderRefunded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID   string    `json:"order_id"`
	StoreID   string    `json:"store_id"`
	Items     []ItemQty `json:"items"`
	TotalKobo int       `json:"total_kobo"`
}

type StatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Reason  string `json:"reason,omitempty"` // e.g. PAYMENT_DECLINED, RESERVATION_EXPIRED
}

// StatusEvent maps a terminal/forward transition to its event type.
func StatusEvent(to Status) string {
	switch to {
	case StatusPaid:
		return EventOrderPaid
	case StatusFailed:
		return EventOrderFailed
	case StatusCancelled:
		return EventOrderCancelled
	case StatusExpired:
		return EventOrderExpired
	case StatusCompleted:
		return EventOrderCompleted
	case StatusRefunded:
		return EventOrderRefunded
	}
	return ""
}
