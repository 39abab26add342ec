package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CardSummary is the non-sensitive card metadata reported by the gateway.
type CardSummary struct {
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	Bin      string `json:"bin,omitempty"`
	ExpMonth string `json:"exp_month,omitempty"`
	ExpYear  string `json:"exp_year,omitempty"`
	Bank     string `json:"bank,omitempty"`
	CardType string `json:"card_type,omitempty"`
}

// PaymentDetails records the verified gateway facts for the first successful
// paid transition of an order.
type PaymentDetails struct {
	TransactionID   string       `json:"transaction_id"`
	Channel         string       `json:"channel,omitempty"`
	AmountMinor     int64        `json:"amount_minor"`
	Currency        string       `json:"currency"`
	PaidAt          time.Time    `json:"paid_at"`
	Card            *CardSummary `json:"card,omitempty"`
	GatewayResponse string       `json:"gateway_response,omitempty"`
	Trigger         string       `json:"trigger,omitempty"`
}

// IsZero reports whether no payment has been recorded.
func (p PaymentDetails) IsZero() bool {
	return p.TransactionID == "" && p.AmountMinor == 0
}

func (p PaymentDetails) Value() (driver.Value, error) {
	if p.IsZero() {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payment details: marshal: %w", err)
	}
	return string(raw), nil
}

func (p *PaymentDetails) Scan(value interface{}) error {
	return scanJSON(value, p, "payment details")
}
