package payloads

import (
	"time"

	"github.com/google/uuid"
)

// OrderPaidEvent is emitted by the single caller that moves an order to paid.
type OrderPaidEvent struct {
	OrderID       uuid.UUID  `json:"order_id"`
	Reference     string     `json:"reference"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	AmountMinor   int64      `json:"amount_minor"`
	Currency      string     `json:"currency"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Channel       string     `json:"channel,omitempty"`
	PaidAt        time.Time  `json:"paid_at"`
	Trigger       string     `json:"trigger"`
}

// OrderRemoteOrderLinkedEvent is emitted when the commerce platform order id is stored.
type OrderRemoteOrderLinkedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	Reference     string    `json:"reference"`
	RemoteOrderID string    `json:"remote_order_id"`
}
