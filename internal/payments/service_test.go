package payments

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/internal/cart"
	"github.com/angelmondragon/storefront-payments/internal/commerce"
	"github.com/angelmondragon/storefront-payments/internal/inventory"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/internal/reconcile"
	"github.com/angelmondragon/storefront-payments/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"github.com/angelmondragon/storefront-payments/pkg/paystack"
	"github.com/angelmondragon/storefront-payments/pkg/square"
)

const testSecret = "sk_test_webhook"

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "sf:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

type fakeGateway struct {
	verifyCalls atomic.Int32
	verify      func(ctx context.Context, reference string) (*paystack.Transaction, error)
	initialized []paystack.InitializeRequest
}

func (g *fakeGateway) Initialize(_ context.Context, req paystack.InitializeRequest) (*paystack.InitializeResponse, error) {
	g.initialized = append(g.initialized, req)
	return &paystack.InitializeResponse{AuthorizationURL: "https://checkout.example/" + req.Reference, AccessCode: "ac_1", Reference: req.Reference}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*paystack.Transaction, error) {
	g.verifyCalls.Add(1)
	return g.verify(ctx, reference)
}

func successfulVerify(amount int64) func(context.Context, string) (*paystack.Transaction, error) {
	return func(_ context.Context, reference string) (*paystack.Transaction, error) {
		paidAt := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
		return &paystack.Transaction{
			ID: 4099, Status: paystack.StatusSuccess, Reference: reference,
			Amount: amount, Currency: "NGN", Channel: "card", PaidAt: &paidAt,
			Authorization: &paystack.Authorization{Last4: "4081", Brand: "visa"},
		}, nil
	}
}

type stubCreator struct{}

func (stubCreator) CreateOrder(_ context.Context, params square.OrderCreateParams) (*sq.Order, error) {
	id := "SQ-" + params.ReferenceID
	return &sq.Order{ID: &id}, nil
}

type failingReconciler struct {
	err error
}

func (f failingReconciler) Reconcile(context.Context, string, reconcile.PaymentFacts) (*reconcile.Result, error) {
	return nil, f.err
}

type fixture struct {
	svc     *Service
	conn    *gorm.DB
	gateway *fakeGateway
	store   *memoryStore
}

func newFixture(t *testing.T, reconciler Reconciler) *fixture {
	t.Helper()
	client, conn := dbtest.OpenClient(t)
	logg := logger.Nop()
	orderRepo := orders.NewRepository(conn)

	if reconciler == nil {
		emitter := outbox.NewService(outbox.NewRepository(conn), logg)
		syncer, err := commerce.NewSyncer(commerce.SyncerParams{Transactor: client, Orders: orderRepo, Creator: stubCreator{}, Emitter: emitter})
		require.NoError(t, err)
		applier, err := inventory.NewReconciler(client, logg)
		require.NoError(t, err)
		engine, err := reconcile.NewEngine(reconcile.EngineParams{
			Transactor: client,
			Orders:     orderRepo,
			Syncer:     syncer,
			Inventory:  applier,
			Carts:      cart.NewRepository(conn),
			Emitter:    emitter,
		})
		require.NoError(t, err)
		reconciler = engine
	}

	store := newMemoryStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "paystack-webhook")
	require.NoError(t, err)
	gateway := &fakeGateway{}
	svc, err := NewService(ServiceParams{
		Gateway:       gateway,
		Reconciler:    reconciler,
		Orders:        orderRepo,
		Guard:         guard,
		Logger:        logg,
		WebhookSecret: testSecret,
		SuccessURL:    "https://shop.example/checkout/success",
		FailureURL:    "https://shop.example/checkout/failed",
		CallbackURL:   "https://api.example/api/v1/payments/callback",
		Currency:      "NGN",
	})
	require.NoError(t, err)
	return &fixture{svc: svc, conn: conn, gateway: gateway, store: store}
}

func (f *fixture) seed(t *testing.T, reference string) models.Order {
	t.Helper()
	dbtest.CreateVariant(t, f.conn, "V"+reference, 5)
	order := dbtest.OrderFixture(reference, dbtest.Item{VariantID: "V" + reference, Quantity: 2})
	dbtest.CreateOrder(t, f.conn, &order)
	return order
}

func chargeSuccess(t *testing.T, reference string, amount int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": EventChargeSuccess,
		"data": map[string]any{
			"id":        4099,
			"reference": reference,
			"status":    "success",
			"amount":    amount,
			"currency":  "NGN",
			"channel":   "card",
			"paid_at":   "2026-09-01T09:00:00Z",
		},
	})
	require.NoError(t, err)
	return body
}

func parseRedirect(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestHandleWebhookReconcilesChargeSuccess(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "WH-1")
	body := chargeSuccess(t, "WH-1", order.TotalMinor())

	out, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
	require.NoError(t, err)
	assert.True(t, out.Reconciled)
	assert.NoError(t, out.Err)

	reloaded := dbtest.ReloadOrder(t, f.conn, "WH-1")
	assert.True(t, reloaded.IsPaid())
	assert.Equal(t, "4099", reloaded.PaymentDetails.TransactionID)
	assert.Equal(t, 3, dbtest.ReloadVariant(t, f.conn, "VWH-1").InventoryQuantity)
	assert.True(t, f.store.has("sf:idempotency:paystack-webhook:charge.success:WH-1"))

	again, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
}

func TestHandleWebhookRejectsTamperedBody(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "WH-2")
	body := chargeSuccess(t, "WH-2", order.TotalMinor())
	signature := paystack.Sign(body, testSecret)
	tampered := chargeSuccess(t, "WH-2", order.TotalMinor()+1)

	_, err := f.svc.HandleWebhook(context.Background(), tampered, signature)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, "other-secret"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	reloaded := dbtest.ReloadOrder(t, f.conn, "WH-2")
	assert.False(t, reloaded.IsPaid())
	assert.Equal(t, 5, dbtest.ReloadVariant(t, f.conn, "VWH-2").InventoryQuantity)
}

func TestHandleWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "WH-3")
	body := []byte(`{"event":"transfer.success","data":{"reference":"WH-3"}}`)

	out, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.False(t, dbtest.ReloadOrder(t, f.conn, "WH-3").IsPaid())
}

func TestHandleWebhookAcknowledgesInternalFailureAndReleasesKey(t *testing.T) {
	f := newFixture(t, failingReconciler{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")})
	body := chargeSuccess(t, "WH-4", 200000)

	out, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
	require.NoError(t, err)
	require.Error(t, out.Err)
	assert.False(t, out.Reconciled)
	assert.False(t, f.store.has("sf:idempotency:paystack-webhook:charge.success:WH-4"))
}

func TestHandleWebhookKeepsKeyOnPermanentFailure(t *testing.T) {
	f := newFixture(t, failingReconciler{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")})
	body := chargeSuccess(t, "WH-5", 200000)

	out, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
	require.NoError(t, err)
	require.Error(t, out.Err)
	assert.True(t, f.store.has("sf:idempotency:paystack-webhook:charge.success:WH-5"))
}

func TestHandleWebhookSkipsUnsuccessfulCharge(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "WH-6")
	body, err := json.Marshal(map[string]any{
		"event": EventChargeSuccess,
		"data": map[string]any{
			"id":               4100,
			"reference":        "WH-6",
			"status":           "abandoned",
			"amount":           order.TotalMinor(),
			"currency":         "NGN",
			"gateway_response": "Customer cancelled",
		},
	})
	require.NoError(t, err)

	out, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.False(t, out.Reconciled)
	assert.True(t, pkgerrors.IsCode(out.Err, pkgerrors.CodePaymentRejected))

	assert.False(t, dbtest.ReloadOrder(t, f.conn, "WH-6").IsPaid())
	assert.Equal(t, 5, dbtest.ReloadVariant(t, f.conn, "VWH-6").InventoryQuantity)
	assert.False(t, f.store.has("sf:idempotency:paystack-webhook:charge.success:WH-6"), "a later successful delivery must still be processed")
}

func TestHandleWebhookMalformedJSONIsAcknowledged(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte(`{"event":`)
	out, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestHandleCallbackAlreadyPaidSkipsVerify(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "CB-1")
	f.gateway.verify = successfulVerify(order.TotalMinor())

	first := parseRedirect(t, f.svc.HandleCallback(context.Background(), "CB-1"))
	assert.Equal(t, "paid", first.Query().Get("status"))
	require.EqualValues(t, 1, f.gateway.verifyCalls.Load())

	second := parseRedirect(t, f.svc.HandleCallback(context.Background(), "CB-1"))
	assert.Equal(t, "/checkout/success", second.Path)
	assert.Equal(t, "already_paid", second.Query().Get("status"))
	assert.Equal(t, "CB-1", second.Query().Get("reference"))
	assert.EqualValues(t, 1, f.gateway.verifyCalls.Load())
}

func TestHandleCallbackTimeoutLeavesOrderUnpaid(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CB-2")
	f.gateway.verify = func(context.Context, string) (*paystack.Transaction, error) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, context.DeadlineExceeded, "paystack verify timed out")
	}

	redirect := parseRedirect(t, f.svc.HandleCallback(context.Background(), "CB-2"))
	assert.Equal(t, "/checkout/failed", redirect.Path)
	assert.Equal(t, ReasonGatewayUnavailable, redirect.Query().Get("reason"))
	assert.False(t, dbtest.ReloadOrder(t, f.conn, "CB-2").IsPaid())
}

func TestHandleCallbackFailureReasons(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CB-3")
	f.gateway.verify = func(_ context.Context, reference string) (*paystack.Transaction, error) {
		return &paystack.Transaction{Status: paystack.StatusAbandoned, Reference: reference}, nil
	}

	missing := parseRedirect(t, f.svc.HandleCallback(context.Background(), " "))
	assert.Equal(t, ReasonMissingReference, missing.Query().Get("reason"))

	unknown := parseRedirect(t, f.svc.HandleCallback(context.Background(), "nope"))
	assert.Equal(t, ReasonOrderNotFound, unknown.Query().Get("reason"))

	abandoned := parseRedirect(t, f.svc.HandleCallback(context.Background(), "CB-3"))
	assert.Equal(t, ReasonPaymentFailed, abandoned.Query().Get("reason"))
	assert.False(t, dbtest.ReloadOrder(t, f.conn, "CB-3").IsPaid())
}

func TestVerifyRejectedPayment(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "VF-1")
	f.gateway.verify = func(_ context.Context, reference string) (*paystack.Transaction, error) {
		return &paystack.Transaction{Status: paystack.StatusFailed, Reference: reference, GatewayResponse: "Declined"}, nil
	}

	_, err := f.svc.Verify(context.Background(), "VF-1")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentRejected))
	assert.Equal(t, 402, pkgerrors.MetadataFor(pkgerrors.CodePaymentRejected).HTTPStatus)
	assert.False(t, dbtest.ReloadOrder(t, f.conn, "VF-1").IsPaid())
}

func TestVerifySuccessReportsSteps(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "VF-2")
	f.gateway.verify = successfulVerify(order.TotalMinor())

	out, err := f.svc.Verify(context.Background(), "VF-2")
	require.NoError(t, err)
	assert.True(t, out.Transitioned)
	assert.Equal(t, "paid", out.PaymentStatus)
	assert.Equal(t, "SQ-VF-2", out.RemoteOrderID)
	assert.Equal(t, "succeeded", out.Steps[reconcile.StepInventory])

	reloaded := dbtest.ReloadOrder(t, f.conn, "VF-2")
	require.NotNil(t, reloaded.PaymentDetails.Card)
	assert.Equal(t, "4081", reloaded.PaymentDetails.Card.Last4)
}

func TestWebhookAndCallbackRaceWritesPaymentOnce(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "RACE-1")
	f.gateway.verify = successfulVerify(order.TotalMinor())
	body := chargeSuccess(t, "RACE-1", order.TotalMinor())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.HandleWebhook(context.Background(), body, paystack.Sign(body, testSecret))
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		f.svc.HandleCallback(context.Background(), "RACE-1")
	}()
	wg.Wait()

	var paidEvents int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", "order_paid").Count(&paidEvents).Error)
	assert.EqualValues(t, 1, paidEvents)
	assert.Equal(t, 3, dbtest.ReloadVariant(t, f.conn, "VRACE-1").InventoryQuantity)
	assert.True(t, dbtest.ReloadOrder(t, f.conn, "RACE-1").IsPaid())
}

func TestInitializeUsesOrderTotal(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "INIT-1")

	resp, err := f.svc.Initialize(context.Background(), InitializeInput{Reference: "INIT-1"})
	require.NoError(t, err)
	assert.Equal(t, "INIT-1", resp.Reference)
	require.Len(t, f.gateway.initialized, 1)
	req := f.gateway.initialized[0]
	assert.Equal(t, order.TotalMinor(), req.AmountMinor)
	assert.Equal(t, "ada@example.com", req.Email)
	assert.Equal(t, "https://api.example/api/v1/payments/callback", req.CallbackURL)
	assert.Equal(t, order.ID.String(), req.Metadata["order_id"])
}

func TestInitializeRejectsPaidOrder(t *testing.T) {
	f := newFixture(t, nil)
	order := f.seed(t, "INIT-2")
	f.gateway.verify = successfulVerify(order.TotalMinor())
	_, err := f.svc.Verify(context.Background(), "INIT-2")
	require.NoError(t, err)

	_, err = f.svc.Initialize(context.Background(), InitializeInput{Reference: "INIT-2"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.Initialize(context.Background(), InitializeInput{Reference: "missing"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFactsFromTransaction(t *testing.T) {
	paidAt := time.Date(2026, 9, 1, 10, 0, 0, 0, time.FixedZone("WAT", 3600))
	facts := FactsFromTransaction(&paystack.Transaction{
		ID: 12, Amount: 5000, Currency: "NGN", Channel: "bank", PaidAt: &paidAt,
	}, "webhook")
	assert.Equal(t, "12", facts.TransactionID)
	assert.Equal(t, time.UTC, facts.PaidAt.Location())
	assert.Nil(t, facts.Card)
}
