package reconcile

import (
	"strings"
	"time"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

// PaymentFacts are the gateway-confirmed facts about a successful charge.
type PaymentFacts struct {
	TransactionID   string
	Channel         string
	AmountMinor     int64
	Currency        string
	PaidAt          time.Time
	Card            *types.CardSummary
	GatewayResponse string
	Trigger         enums.PaymentTrigger
}

func (f PaymentFacts) details(now time.Time) types.PaymentDetails {
	paidAt := f.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	return types.PaymentDetails{
		TransactionID:   strings.TrimSpace(f.TransactionID),
		Channel:         f.Channel,
		AmountMinor:     f.AmountMinor,
		Currency:        strings.ToUpper(strings.TrimSpace(f.Currency)),
		PaidAt:          paidAt.UTC(),
		Card:            f.Card,
		GatewayResponse: f.GatewayResponse,
		Trigger:         f.Trigger.String(),
	}
}
