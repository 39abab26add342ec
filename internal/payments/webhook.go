package payments

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/paystack"
)

// EventChargeSuccess is the only webhook event that moves an order to paid.
const EventChargeSuccess = "charge.success"

// WebhookEvent is the gateway notification body.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	ID              json.Number             `json:"id"`
	Reference       string                  `json:"reference"`
	Status          string                  `json:"status"`
	Amount          int64                   `json:"amount"`
	Currency        string                  `json:"currency"`
	Channel         string                  `json:"channel"`
	GatewayResponse string                  `json:"gateway_response"`
	PaidAt          *time.Time              `json:"paid_at"`
	Authorization   *paystack.Authorization `json:"authorization"`
}

// DeliveryKey identifies a delivery for deduplication.
func (e WebhookEvent) DeliveryKey() string {
	return e.Event + ":" + e.Data.Reference
}

func (d WebhookData) transaction() *paystack.Transaction {
	id, _ := strconv.ParseInt(d.ID.String(), 10, 64)
	return &paystack.Transaction{
		ID:              id,
		Status:          d.Status,
		Reference:       d.Reference,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Channel:         d.Channel,
		GatewayResponse: d.GatewayResponse,
		PaidAt:          d.PaidAt,
		Authorization:   d.Authorization,
	}
}
