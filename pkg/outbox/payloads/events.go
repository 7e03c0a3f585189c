package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/pkg/enums"
)

// OrderStatusChangedEvent is emitted for every order status change.
type OrderStatusChangedEvent struct {
	OrderID      uuid.UUID         `json:"order_id"`
	CustomerID   uuid.UUID         `json:"customer_id"`
	StoreID      uuid.UUID         `json:"store_id"`
	From         enums.OrderStatus `json:"from"`
	To           enums.OrderStatus `json:"to"`
	TotalInclTax string            `json:"total_incl_tax"`
	Restocked    bool              `json:"restocked,omitempty"`
	ChangedAt    time.Time         `json:"changed_at"`
}

// StockOutEvent reports a paid order that could not be reserved. Downstream
// consumers reconcile the refund with the gateway.
type StockOutEvent struct {
	OrderID           uuid.UUID `json:"order_id"`
	StoreID           uuid.UUID `json:"store_id"`
	ProductID         uuid.UUID `json:"product_id"`
	ExternalReference string    `json:"external_reference,omitempty"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
}

// PaymentFailedEvent is emitted when the gateway reports a failed charge.
type PaymentFailedEvent struct {
	OrderID           uuid.UUID                  `json:"order_id"`
	AttemptID         uuid.UUID                  `json:"attempt_id"`
	ExternalReference string                     `json:"external_reference,omitempty"`
	Status            enums.PaymentAttemptStatus `json:"status"`
	Reason            string                     `json:"reason,omitempty"`
}

// StockRestockedEvent is emitted when stock returns to a store, either from
// staff restocking or from cancelling a confirmed order.
type StockRestockedEvent struct {
	StoreID   uuid.UUID  `json:"store_id"`
	ProductID uuid.UUID  `json:"product_id"`
	Quantity  int        `json:"quantity"`
	OrderID   *uuid.UUID `json:"order_id,omitempty"`
}
