// Package reconcile owns the only write path that moves an order to paid and
// fans out the post-payment side effects.
package reconcile

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/internal/commerce"
	"github.com/angelmondragon/storefront-payments/internal/inventory"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"github.com/angelmondragon/storefront-payments/pkg/outbox/payloads"
)

const defaultStepTimeout = 10 * time.Second

type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type RemoteOrderSyncer interface {
	Sync(ctx context.Context, order *models.Order) (commerce.SyncResult, error)
}

type InventoryApplier interface {
	Apply(ctx context.Context, order *models.Order) []inventory.ItemResult
}

type CartClearer interface {
	Clear(ctx context.Context, userID uuid.UUID) (int64, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EngineParams wires the engine dependencies.
type EngineParams struct {
	Transactor  Transactor
	Orders      orders.Repository
	Syncer      RemoteOrderSyncer
	Inventory   InventoryApplier
	Carts       CartClearer
	Emitter     EventEmitter
	Metrics     *metrics.ReconcileMetrics
	Logger      *logger.Logger
	StepTimeout time.Duration
	Now         func() time.Time
}

type Engine struct {
	tx          Transactor
	orders      orders.Repository
	syncer      RemoteOrderSyncer
	inventory   InventoryApplier
	carts       CartClearer
	emitter     EventEmitter
	metrics     *metrics.ReconcileMetrics
	logg        *logger.Logger
	stepTimeout time.Duration
	now         func() time.Time
}

func NewEngine(p EngineParams) (*Engine, error) {
	switch {
	case p.Transactor == nil:
		return nil, fmt.Errorf("transactor required")
	case p.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Syncer == nil:
		return nil, fmt.Errorf("remote order syncer required")
	case p.Inventory == nil:
		return nil, fmt.Errorf("inventory applier required")
	case p.Carts == nil:
		return nil, fmt.Errorf("cart clearer required")
	case p.Emitter == nil:
		return nil, fmt.Errorf("event emitter required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.StepTimeout <= 0 {
		p.StepTimeout = defaultStepTimeout
	}
	if p.Now == nil {
		p.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		tx:          p.Transactor,
		orders:      p.Orders,
		syncer:      p.Syncer,
		inventory:   p.Inventory,
		carts:       p.Carts,
		emitter:     p.Emitter,
		metrics:     p.Metrics,
		logg:        p.Logger,
		stepTimeout: p.StepTimeout,
		now:         p.Now,
	}, nil
}

// Reconcile records a confirmed payment against the order with the given
// reference and runs the post-payment side effects. Only a failure to load the
// order or to write the paid transition is returned as an error; side-effect
// failures are reported in the Result and never undo the transition.
func (e *Engine) Reconcile(ctx context.Context, reference string, facts PaymentFacts) (*Result, error) {
	reference = strings.TrimSpace(reference)
	ctx = e.logg.WithFields(ctx, map[string]any{
		"reference": reference,
		"trigger":   facts.Trigger.String(),
	})
	trigger := facts.Trigger.String()

	order, err := e.load(ctx, reference)
	if err != nil {
		e.metrics.IncTransition(trigger, "error")
		return nil, err
	}
	result := &Result{Reference: order.Reference, OrderID: order.ID}
	ctx = e.logg.WithField(ctx, "order_id", order.ID.String())

	if order.IsPaid() {
		result.AlreadyPaid = true
		e.metrics.IncTransition(trigger, "already_paid")
	} else {
		won, err := e.markPaid(ctx, order, facts)
		if err != nil {
			e.metrics.IncTransition(trigger, "error")
			e.logg.Error(ctx, "paid transition failed", err)
			return nil, err
		}
		if won {
			result.Transitioned = true
			e.metrics.IncTransition(trigger, "transitioned")
			e.logg.Info(ctx, "order marked paid")
		} else {
			result.AlreadyPaid = true
			e.metrics.IncTransition(trigger, "already_paid")
		}
		// Another caller may have linked the remote order or applied stock
		// between the load and the write; the guards handle it either way.
		if order, err = e.load(ctx, reference); err != nil {
			return nil, err
		}
	}

	e.runSideEffects(ctx, order, result)
	return result, nil
}

// Resume re-runs the side effects for an order that is already paid. It never
// contacts the payment gateway.
func (e *Engine) Resume(ctx context.Context, reference string) (*Result, error) {
	reference = strings.TrimSpace(reference)
	ctx = e.logg.WithFields(ctx, map[string]any{
		"reference": reference,
		"trigger":   enums.TriggerSweep.String(),
	})
	order, err := e.load(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid")
	}
	result := &Result{Reference: order.Reference, OrderID: order.ID, AlreadyPaid: true}
	e.runSideEffects(e.logg.WithField(ctx, "order_id", order.ID.String()), order, result)
	return result, nil
}

func (e *Engine) load(ctx context.Context, reference string) (*models.Order, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	order, err := e.orders.FindByReference(ctx, reference)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (e *Engine) markPaid(ctx context.Context, order *models.Order, facts PaymentFacts) (bool, error) {
	details := facts.details(e.now())
	if details.IsZero() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment facts are required")
	}
	e.checkAmount(ctx, order, facts)

	var won bool
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.orders.WithTx(tx).MarkPaidIfUnpaid(ctx, order.Reference, details, details.PaidAt)
		if err != nil {
			return err
		}
		won = ok
		if !ok {
			return nil
		}
		return e.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: order.UserID, Trigger: facts.Trigger.String()},
			OccurredAt:    details.PaidAt,
			Data: payloads.OrderPaidEvent{
				OrderID:       order.ID,
				Reference:     order.Reference,
				UserID:        order.UserID,
				AmountMinor:   details.AmountMinor,
				Currency:      details.Currency,
				TransactionID: details.TransactionID,
				Channel:       details.Channel,
				PaidAt:        details.PaidAt,
				Trigger:       details.Trigger,
			},
		})
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	return won, nil
}

func (e *Engine) checkAmount(ctx context.Context, order *models.Order, facts PaymentFacts) {
	expected := order.TotalMinor()
	currencyMismatch := facts.Currency != "" && order.Currency != "" && !strings.EqualFold(facts.Currency, order.Currency)
	if facts.AmountMinor == expected && !currencyMismatch {
		return
	}
	e.metrics.IncAmountMismatch()
	e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
		"expected_amount_minor": expected,
		"paid_amount_minor":     facts.AmountMinor,
		"expected_currency":     order.Currency,
		"paid_currency":         facts.Currency,
	}), "verified amount does not match order total")
}

func (e *Engine) runSideEffects(ctx context.Context, order *models.Order, result *Result) {
	result.CommerceSync = e.syncRemoteOrder(ctx, order, result)
	result.Inventory = e.applyInventory(ctx, order, result)
	result.CartClear = e.clearCart(ctx, order)

	for step, res := range result.Steps() {
		e.metrics.IncStep(step, string(res.Outcome))
	}
}

func (e *Engine) syncRemoteOrder(ctx context.Context, order *models.Order, result *Result) StepResult {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	res, err := e.syncer.Sync(stepCtx, order)
	if err != nil {
		e.logg.Error(e.logg.WithField(ctx, "step", StepCommerceSync), "remote order sync failed", err)
		return failed(err)
	}
	result.RemoteOrderID = res.RemoteOrderID
	if res.Skipped {
		return StepResult{Outcome: OutcomeSkipped}
	}
	return StepResult{Outcome: OutcomeSucceeded}
}

func (e *Engine) applyInventory(ctx context.Context, order *models.Order, result *Result) StepResult {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	items := e.inventory.Apply(stepCtx, order)
	result.Items = items

	if failed := inventory.Failed(items); len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		retryable := false
		for _, item := range failed {
			errs = append(errs, fmt.Errorf("item %s: %w", item.ItemID, item.Err))
			retryable = retryable || pkgerrors.IsRetryable(item.Err)
		}
		return StepResult{Outcome: OutcomeFailed, Retryable: retryable, Err: multierr.Combine(errs...)}
	}
	for _, item := range items {
		if item.Status == inventory.ItemApplied {
			return StepResult{Outcome: OutcomeSucceeded}
		}
	}
	return StepResult{Outcome: OutcomeSkipped}
}

func (e *Engine) clearCart(ctx context.Context, order *models.Order) StepResult {
	if order.UserID == nil {
		return StepResult{Outcome: OutcomeSkipped}
	}
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	if _, err := e.carts.Clear(stepCtx, *order.UserID); err != nil {
		e.logg.Error(e.logg.WithField(ctx, "step", StepCartClear), "cart clear failed", err)
		return failed(err)
	}
	return StepResult{Outcome: OutcomeSucceeded}
}

func failed(err error) StepResult {
	return StepResult{Outcome: OutcomeFailed, Retryable: pkgerrors.IsRetryable(err), Err: err}
}
