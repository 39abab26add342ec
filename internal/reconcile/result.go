package reconcile

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-payments/internal/inventory"
)

// Outcome is the result of a single side-effect step.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Step names, also used as metric and log labels.
const (
	StepCommerceSync = "commerce_sync"
	StepInventory    = "inventory"
	StepCartClear    = "cart_clear"
)

type StepResult struct {
	Outcome   Outcome
	Retryable bool
	Err       error
}

func (s StepResult) Failed() bool { return s.Outcome == OutcomeFailed }

// Result reports what one reconciliation did. Transitioned is true only for the
// caller whose conditional write moved the order to paid.
type Result struct {
	Reference     string
	OrderID       uuid.UUID
	Transitioned  bool
	AlreadyPaid   bool
	RemoteOrderID string

	CommerceSync StepResult
	Inventory    StepResult
	CartClear    StepResult

	Items []inventory.ItemResult
}

// Steps returns the side-effect results keyed by step name.
func (r *Result) Steps() map[string]StepResult {
	if r == nil {
		return nil
	}
	return map[string]StepResult{
		StepCommerceSync: r.CommerceSync,
		StepInventory:    r.Inventory,
		StepCartClear:    r.CartClear,
	}
}

// NeedsRetry reports whether any side effect failed in a way a later attempt
// may fix.
func (r *Result) NeedsRetry() bool {
	if r == nil {
		return false
	}
	for _, step := range r.Steps() {
		if step.Failed() && step.Retryable {
			return true
		}
	}
	return false
}

// Failed reports whether any side effect failed.
func (r *Result) Failed() bool {
	if r == nil {
		return false
	}
	for _, step := range r.Steps() {
		if step.Failed() {
			return true
		}
	}
	return false
}
