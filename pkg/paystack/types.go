package paystack

import "time"

// Transaction statuses reported by verify and webhook payloads.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusReversed  = "reversed"
)

// InitializeRequest opens a hosted checkout. AmountMinor is in the currency's
// minor unit (kobo for NGN).
type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

type initializeBody struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Reference   string         `json:"reference"`
	Currency    string         `json:"currency,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InitializeResponse carries the checkout URL the shopper is redirected to.
type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Authorization is the card summary attached to a charge.
type Authorization struct {
	Last4    string `json:"last4"`
	ExpMonth string `json:"exp_month"`
	ExpYear  string `json:"exp_year"`
	CardType string `json:"card_type"`
	Bank     string `json:"bank"`
	Brand    string `json:"brand"`
	Reusable bool   `json:"reusable"`
}

// Customer is the payer as recorded by the gateway.
type Customer struct {
	Email string `json:"email"`
}

// Transaction is the gateway's view of a charge.
type Transaction struct {
	ID              int64          `json:"id"`
	Status          string         `json:"status"`
	Reference       string         `json:"reference"`
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	Channel         string         `json:"channel"`
	GatewayResponse string         `json:"gateway_response"`
	PaidAt          *time.Time     `json:"paid_at"`
	Authorization   *Authorization `json:"authorization"`
	Customer        *Customer      `json:"customer"`
}

// Succeeded reports whether the charge settled.
func (t Transaction) Succeeded() bool {
	return t.Status == StatusSuccess
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}
