package payments

import (
	"strconv"

	"github.com/angelmondragon/storefront-payments/internal/reconcile"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/paystack"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

// FactsFromTransaction maps a verified gateway transaction onto reconciliation facts.
func FactsFromTransaction(txn *paystack.Transaction, trigger enums.PaymentTrigger) reconcile.PaymentFacts {
	facts := reconcile.PaymentFacts{
		Channel:         txn.Channel,
		AmountMinor:     txn.Amount,
		Currency:        txn.Currency,
		GatewayResponse: txn.GatewayResponse,
		Trigger:         trigger,
	}
	if txn.ID != 0 {
		facts.TransactionID = strconv.FormatInt(txn.ID, 10)
	}
	if txn.PaidAt != nil {
		facts.PaidAt = txn.PaidAt.UTC()
	}
	if auth := txn.Authorization; auth != nil {
		facts.Card = &types.CardSummary{
			Brand:    auth.Brand,
			Last4:    auth.Last4,
			ExpMonth: auth.ExpMonth,
			ExpYear:  auth.ExpYear,
			Bank:     auth.Bank,
			CardType: auth.CardType,
		}
	}
	return facts
}
