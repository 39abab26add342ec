package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/internal/cart"
	"github.com/angelmondragon/storefront-payments/internal/commerce"
	"github.com/angelmondragon/storefront-payments/internal/inventory"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/metrics"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"github.com/angelmondragon/storefront-payments/pkg/square"
)

type fakeCreator struct {
	calls   atomic.Int32
	failing atomic.Bool
}

func (f *fakeCreator) CreateOrder(_ context.Context, params square.OrderCreateParams) (*sq.Order, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square unavailable")
	}
	id := "SQ-" + params.ReferenceID
	return &sq.Order{ID: &id}, nil
}

type harness struct {
	engine  *Engine
	conn    *gorm.DB
	creator *fakeCreator
	reg     *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	logg := logger.Nop()
	orderRepo := orders.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	creator := &fakeCreator{}

	syncer, err := commerce.NewSyncer(commerce.SyncerParams{
		Transactor: client,
		Orders:     orderRepo,
		Creator:    creator,
		Emitter:    emitter,
		Logger:     logg,
	})
	require.NoError(t, err)
	applier, err := inventory.NewReconciler(client, logg, inventory.WithConcurrency(2))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	engine, err := NewEngine(EngineParams{
		Transactor:  client,
		Orders:      orderRepo,
		Syncer:      syncer,
		Inventory:   applier,
		Carts:       cart.NewRepository(conn),
		Emitter:     emitter,
		Metrics:     metrics.NewReconcileMetrics(reg),
		Logger:      logg,
		StepTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return &harness{engine: engine, conn: conn, creator: creator, reg: reg}
}

func (h *harness) seedOrder(t *testing.T, reference string, stock, qty int, userID *uuid.UUID) models.Order {
	t.Helper()
	dbtest.CreateVariant(t, h.conn, "V"+reference, stock)
	order := dbtest.OrderFixture(reference, dbtest.Item{VariantID: "V" + reference, Quantity: qty})
	order.UserID = userID
	dbtest.CreateOrder(t, h.conn, &order)
	return order
}

func (h *harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (h *harness) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range mf.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metricLoop
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func facts(order models.Order, txnID string, trigger enums.PaymentTrigger) PaymentFacts {
	return PaymentFacts{
		TransactionID: txnID,
		Channel:       "card",
		AmountMinor:   order.TotalMinor(),
		Currency:      "NGN",
		PaidAt:        time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC),
		Trigger:       trigger,
	}
}

func TestReconcileDecrementsStockAndStaysAvailable(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	dbtest.CreateCart(t, h.conn, userID, 2)
	order := h.seedOrder(t, "R1-A", 5, 2, &userID)

	res, err := h.engine.Reconcile(context.Background(), "R1-A", facts(order, "txn-1", enums.TriggerWebhook))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.False(t, res.AlreadyPaid)
	assert.Equal(t, OutcomeSucceeded, res.CommerceSync.Outcome)
	assert.Equal(t, OutcomeSucceeded, res.Inventory.Outcome)
	assert.Equal(t, OutcomeSucceeded, res.CartClear.Outcome)
	assert.False(t, res.NeedsRetry())
	assert.Equal(t, "SQ-R1-A", res.RemoteOrderID)

	variant := dbtest.ReloadVariant(t, h.conn, "VR1-A")
	assert.Equal(t, 3, variant.InventoryQuantity)
	assert.True(t, variant.AvailableForSale)

	reloaded := dbtest.ReloadOrder(t, h.conn, "R1-A")
	assert.Equal(t, enums.PaymentStatusPaid, reloaded.PaymentStatus)
	assert.Equal(t, enums.OrderStatusProcessing, reloaded.Status)
	assert.Equal(t, "txn-1", reloaded.PaymentDetails.TransactionID)
	assert.Equal(t, "webhook", reloaded.PaymentDetails.Trigger)
	require.NotNil(t, reloaded.RemoteOrderID)

	var cartItems int64
	require.NoError(t, h.conn.Model(&models.CartItem{}).Count(&cartItems).Error)
	assert.Zero(t, cartItems)

	assert.EqualValues(t, 1, h.countEvents(t, enums.EventOrderPaid))
	assert.EqualValues(t, 1, h.countEvents(t, enums.EventOrderRemoteOrderLinked))
	assert.Equal(t, 1.0, h.counter(t, "storefront_reconcile_transitions_total", map[string]string{"trigger": "webhook", "result": "transitioned"}))
}

func TestReconcileLastUnitMarksUnavailable(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, "R1-B", 1, 1, nil)

	res, err := h.engine.Reconcile(context.Background(), "R1-B", facts(order, "txn-1", enums.TriggerVerify))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, OutcomeSkipped, res.CartClear.Outcome)

	variant := dbtest.ReloadVariant(t, h.conn, "VR1-B")
	assert.Equal(t, 0, variant.InventoryQuantity)
	assert.False(t, variant.AvailableForSale)
}

func TestReconcileSecondCallKeepsFirstPayment(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, "IDEM", 10, 2, nil)
	ctx := context.Background()

	_, err := h.engine.Reconcile(ctx, "IDEM", facts(order, "txn-first", enums.TriggerWebhook))
	require.NoError(t, err)

	res, err := h.engine.Reconcile(ctx, "IDEM", facts(order, "txn-second", enums.TriggerCallback))
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.True(t, res.AlreadyPaid)
	assert.Equal(t, OutcomeSkipped, res.CommerceSync.Outcome)
	assert.Equal(t, OutcomeSkipped, res.Inventory.Outcome)

	reloaded := dbtest.ReloadOrder(t, h.conn, "IDEM")
	assert.Equal(t, "txn-first", reloaded.PaymentDetails.TransactionID)
	assert.Equal(t, 8, dbtest.ReloadVariant(t, h.conn, "VIDEM").InventoryQuantity)
	assert.EqualValues(t, 1, h.creator.calls.Load())
	assert.EqualValues(t, 1, h.countEvents(t, enums.EventOrderPaid))
}

func TestReconcileConcurrentTriggersTransitionOnce(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, "RACE", 10, 3, nil)

	triggers := []enums.PaymentTrigger{enums.TriggerWebhook, enums.TriggerCallback, enums.TriggerVerify, enums.TriggerWebhook}
	var (
		wg          sync.WaitGroup
		transitions atomic.Int32
	)
	for _, trigger := range triggers {
		wg.Add(1)
		go func(trigger enums.PaymentTrigger) {
			defer wg.Done()
			res, err := h.engine.Reconcile(context.Background(), "RACE", facts(order, uuid.NewString(), trigger))
			if !assert.NoError(t, err) {
				return
			}
			if res.Transitioned {
				transitions.Add(1)
			}
		}(trigger)
	}
	wg.Wait()

	assert.EqualValues(t, 1, transitions.Load())
	assert.EqualValues(t, 1, h.countEvents(t, enums.EventOrderPaid))
	assert.EqualValues(t, 1, h.countEvents(t, enums.EventOrderRemoteOrderLinked))
	assert.Equal(t, 7, dbtest.ReloadVariant(t, h.conn, "VRACE").InventoryQuantity)
}

func TestReconcileSideEffectFailureKeepsPaid(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, "FAIL", 4, 1, nil)
	h.creator.failing.Store(true)

	res, err := h.engine.Reconcile(context.Background(), "FAIL", facts(order, "txn-1", enums.TriggerWebhook))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, OutcomeFailed, res.CommerceSync.Outcome)
	assert.True(t, res.CommerceSync.Retryable)
	assert.Equal(t, OutcomeSucceeded, res.Inventory.Outcome)
	assert.True(t, res.NeedsRetry())
	assert.True(t, res.Failed())

	reloaded := dbtest.ReloadOrder(t, h.conn, "FAIL")
	assert.True(t, reloaded.IsPaid())
	assert.Nil(t, reloaded.RemoteOrderID)

	h.creator.failing.Store(false)
	resumed, err := h.engine.Resume(context.Background(), "FAIL")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, resumed.CommerceSync.Outcome)
	assert.Equal(t, OutcomeSkipped, resumed.Inventory.Outcome)
	assert.False(t, resumed.NeedsRetry())
	assert.Equal(t, 3, dbtest.ReloadVariant(t, h.conn, "VFAIL").InventoryQuantity)
}

func TestReconcileMissingVariantRecordedNotFatal(t *testing.T) {
	h := newHarness(t)
	order := dbtest.OrderFixture("NOVAR", dbtest.Item{VariantID: "ghost", Quantity: 1})
	dbtest.CreateOrder(t, h.conn, &order)

	res, err := h.engine.Reconcile(context.Background(), "NOVAR", facts(order, "txn-1", enums.TriggerVerify))
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, OutcomeFailed, res.Inventory.Outcome)
	assert.False(t, res.Inventory.Retryable)
	require.Len(t, res.Items, 1)
	assert.Equal(t, inventory.ItemFailed, res.Items[0].Status)
	assert.True(t, dbtest.ReloadOrder(t, h.conn, "NOVAR").IsPaid())
}

func TestReconcileOrderNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Reconcile(context.Background(), "missing", PaymentFacts{TransactionID: "t", AmountMinor: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.False(t, pkgerrors.IsRetryable(err))

	_, err = h.engine.Reconcile(context.Background(), "  ", PaymentFacts{TransactionID: "t"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestReconcileRequiresFacts(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "NOFACTS", 1, 1, nil)

	_, err := h.engine.Reconcile(context.Background(), "NOFACTS", PaymentFacts{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.False(t, dbtest.ReloadOrder(t, h.conn, "NOFACTS").IsPaid())
}

func TestReconcileAmountMismatchWarnsButTransitions(t *testing.T) {
	h := newHarness(t)
	order := h.seedOrder(t, "SHORT", 3, 1, nil)
	f := facts(order, "txn-1", enums.TriggerWebhook)
	f.AmountMinor = order.TotalMinor() - 100

	res, err := h.engine.Reconcile(context.Background(), "SHORT", f)
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, 1.0, h.counter(t, "storefront_reconcile_amount_mismatch_total", nil))
}

func TestResumeRejectsUnpaidOrder(t *testing.T) {
	h := newHarness(t)
	h.seedOrder(t, "UNPAID", 1, 1, nil)

	_, err := h.engine.Resume(context.Background(), "UNPAID")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Zero(t, h.creator.calls.Load())
}

func TestNewEngineValidatesDependencies(t *testing.T) {
	_, err := NewEngine(EngineParams{})
	require.Error(t, err)
}
