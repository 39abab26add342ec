// Package payments adapts the verify, webhook and callback entry points onto
// the reconciliation engine.
package payments

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/internal/reconcile"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/paystack"
)

// Gateway is the payment provider surface.
type Gateway interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResponse, error)
	Verify(ctx context.Context, reference string) (*paystack.Transaction, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, reference string, facts reconcile.PaymentFacts) (*reconcile.Result, error)
}

type OrderReader interface {
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Callback redirect reasons.
const (
	ReasonMissingReference   = "missing_reference"
	ReasonOrderNotFound      = "order_not_found"
	ReasonGatewayUnavailable = "gateway_unavailable"
	ReasonPaymentFailed      = "payment_failed"
	ReasonReconcileFailed    = "reconcile_failed"
)

type ServiceParams struct {
	Gateway       Gateway
	Reconciler    Reconciler
	Orders        OrderReader
	Guard         deliveryGuard
	Logger        *logger.Logger
	WebhookSecret string
	SuccessURL    string
	FailureURL    string
	CallbackURL   string
	Currency      string
}

type Service struct {
	gateway       Gateway
	reconciler    Reconciler
	orders        OrderReader
	guard         deliveryGuard
	logg          *logger.Logger
	webhookSecret string
	successURL    string
	failureURL    string
	callbackURL   string
	currency      string
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if p.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if p.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if p.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if strings.TrimSpace(p.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required")
	}
	for _, raw := range []string{p.SuccessURL, p.FailureURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "redirect url must be absolute")
		}
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Service{
		gateway:       p.Gateway,
		reconciler:    p.Reconciler,
		orders:        p.Orders,
		guard:         p.Guard,
		logg:          p.Logger,
		webhookSecret: p.WebhookSecret,
		successURL:    p.SuccessURL,
		failureURL:    p.FailureURL,
		callbackURL:   p.CallbackURL,
		currency:      p.Currency,
	}, nil
}

// InitializeInput opens checkout for an existing unpaid order.
type InitializeInput struct {
	Reference   string
	Email       string
	CallbackURL string
}

// Initialize starts a hosted checkout for the order total.
func (s *Service) Initialize(ctx context.Context, in InitializeInput) (*paystack.InitializeResponse, error) {
	order, err := s.findOrder(ctx, in.Reference)
	if err != nil {
		return nil, err
	}
	if !order.PaymentStatus.CanBecome(enums.PaymentStatusPaid) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		email = order.Email
	}
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required to initialize payment")
	}
	callback := strings.TrimSpace(in.CallbackURL)
	if callback == "" {
		callback = s.callbackURL
	}
	currency := order.Currency
	if currency == "" {
		currency = s.currency
	}
	return s.gateway.Initialize(ctx, paystack.InitializeRequest{
		Email:       email,
		AmountMinor: order.TotalMinor(),
		Currency:    currency,
		Reference:   order.Reference,
		CallbackURL: callback,
		Metadata: map[string]any{
			"order_id":  order.ID.String(),
			"reference": order.Reference,
		},
	})
}

// VerifyOutcome summarizes an explicit verification.
type VerifyOutcome struct {
	Reference     string            `json:"reference"`
	PaymentStatus string            `json:"payment_status"`
	Transitioned  bool              `json:"transitioned"`
	AlreadyPaid   bool              `json:"already_paid"`
	RemoteOrderID string            `json:"remote_order_id,omitempty"`
	Steps         map[string]string `json:"steps"`
}

// Verify asks the gateway about the reference and reconciles a successful charge.
func (s *Service) Verify(ctx context.Context, reference string) (*VerifyOutcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	ctx = s.logg.WithReference(ctx, reference)

	txn, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !txn.Succeeded() {
		return nil, rejected(txn)
	}
	result, err := s.reconciler.Reconcile(ctx, reference, FactsFromTransaction(txn, enums.TriggerVerify))
	if err != nil {
		return nil, err
	}
	return outcomeFor(result), nil
}

func outcomeFor(result *reconcile.Result) *VerifyOutcome {
	out := &VerifyOutcome{
		Reference:     result.Reference,
		PaymentStatus: string(enums.PaymentStatusPaid),
		Transitioned:  result.Transitioned,
		AlreadyPaid:   result.AlreadyPaid,
		RemoteOrderID: result.RemoteOrderID,
		Steps:         map[string]string{},
	}
	for name, step := range result.Steps() {
		out.Steps[name] = string(step.Outcome)
	}
	return out
}

func rejected(txn *paystack.Transaction) error {
	return pkgerrors.New(pkgerrors.CodePaymentRejected, "payment was not successful").
		WithDetails(map[string]any{
			"status":           txn.Status,
			"gateway_response": txn.GatewayResponse,
		})
}

// WebhookOutcome tells the caller what happened to an authenticated delivery.
type WebhookOutcome struct {
	Event      string
	Reference  string
	Duplicate  bool
	Ignored    bool
	Reconciled bool
	Err        error
}

// HandleWebhook authenticates the raw body and processes the event. The only
// error returned is CodeUnauthorized for a bad signature; every failure after
// authentication is reported in the outcome so the delivery is acknowledged.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookOutcome, error) {
	if !paystack.VerifySignature(rawBody, s.webhookSecret, signature) {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"security_event": "webhook_signature_invalid",
			"body_bytes":     len(rawBody),
		}), "webhook signature rejected")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		s.logg.Error(ctx, "webhook body is not valid json", err)
		return &WebhookOutcome{Ignored: true, Err: err}, nil
	}
	out := &WebhookOutcome{Event: event.Event, Reference: strings.TrimSpace(event.Data.Reference)}
	ctx = s.logg.WithFields(ctx, map[string]any{"reference": out.Reference, "event": event.Event})

	if event.Event != EventChargeSuccess {
		out.Ignored = true
		s.logg.Info(ctx, "webhook event acknowledged without processing")
		return out, nil
	}
	if out.Reference == "" {
		out.Ignored = true
		out.Err = pkgerrors.New(pkgerrors.CodeValidation, "webhook reference missing")
		s.logg.Warn(ctx, "charge.success webhook without reference")
		return out, nil
	}

	txn := event.Data.transaction()
	if txn.Status == "" {
		txn.Status = paystack.StatusSuccess
	}
	if !txn.Succeeded() {
		out.Ignored = true
		out.Err = rejected(txn)
		s.logg.Warn(s.logg.WithField(ctx, "status", txn.Status), "charge.success webhook with unsuccessful status")
		return out, nil
	}

	key := event.DeliveryKey()
	duplicate, err := s.guard.CheckAndMark(ctx, key)
	if err != nil {
		// Dedupe is an optimization; the paid transition is guarded in the database.
		s.logg.Error(ctx, "webhook dedupe unavailable", err)
	} else if duplicate {
		out.Duplicate = true
		s.logg.Info(ctx, "duplicate webhook delivery")
		return out, nil
	}

	result, err := s.reconciler.Reconcile(ctx, out.Reference, FactsFromTransaction(txn, enums.TriggerWebhook))
	switch {
	case err != nil:
		out.Err = err
		s.logg.Error(ctx, "webhook reconciliation failed", err)
		if pkgerrors.IsRetryable(err) {
			s.release(ctx, key)
		}
	case result.NeedsRetry():
		out.Reconciled = true
		s.logg.Warn(ctx, "webhook side effects incomplete")
		s.release(ctx, key)
	default:
		out.Reconciled = true
	}
	return out, nil
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.guard.Delete(ctx, key); err != nil {
		s.logg.Error(ctx, "release webhook dedupe key", err)
	}
}

// HandleCallback processes the browser return from checkout and returns the
// URL to redirect the shopper to. It never fails.
func (s *Service) HandleCallback(ctx context.Context, reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return s.failureRedirect(reference, ReasonMissingReference)
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"reference": reference, "trigger": enums.TriggerCallback.String()})

	order, err := s.findOrder(ctx, reference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return s.failureRedirect(reference, ReasonOrderNotFound)
		}
		s.logg.Error(ctx, "callback order lookup failed", err)
		return s.failureRedirect(reference, ReasonReconcileFailed)
	}
	if order.IsPaid() {
		return s.successRedirect(reference, "already_paid")
	}

	txn, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.logg.Error(ctx, "callback verify failed", err)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return s.failureRedirect(reference, ReasonPaymentFailed)
		}
		return s.failureRedirect(reference, ReasonGatewayUnavailable)
	}
	if !txn.Succeeded() {
		s.logg.Info(s.logg.WithField(ctx, "gateway_status", txn.Status), "callback payment not successful")
		return s.failureRedirect(reference, ReasonPaymentFailed)
	}
	if _, err := s.reconciler.Reconcile(ctx, reference, FactsFromTransaction(txn, enums.TriggerCallback)); err != nil {
		s.logg.Error(ctx, "callback reconciliation failed", err)
		return s.failureRedirect(reference, ReasonReconcileFailed)
	}
	return s.successRedirect(reference, "paid")
}

func (s *Service) findOrder(ctx context.Context, reference string) (*models.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	order, err := s.orders.FindByReference(ctx, reference)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *Service) successRedirect(reference, status string) string {
	return withQuery(s.successURL, map[string]string{"reference": reference, "status": status})
}

func (s *Service) failureRedirect(reference, reason string) string {
	return withQuery(s.failureURL, map[string]string{"reference": reference, "reason": reason})
}

func withQuery(base string, params map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// String is used in logs.
func (o *WebhookOutcome) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("event=%s reference=%s duplicate=%t ignored=%t reconciled=%t", o.Event, o.Reference, o.Duplicate, o.Ignored, o.Reconciled)
}
