package payments

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-payments/api/middleware"
	"github.com/angelmondragon/storefront-payments/api/responses"
	"github.com/angelmondragon/storefront-payments/api/validators"
	paymentsvc "github.com/angelmondragon/storefront-payments/internal/payments"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/paystack"
)

// maxWebhookBody bounds the body read before signature verification.
const maxWebhookBody = 1 << 20

type Service interface {
	Initialize(ctx context.Context, in paymentsvc.InitializeInput) (*paystack.InitializeResponse, error)
	Verify(ctx context.Context, reference string) (*paymentsvc.VerifyOutcome, error)
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*paymentsvc.WebhookOutcome, error)
	HandleCallback(ctx context.Context, reference string) string
}

type initializeRequest struct {
	Reference   string `json:"reference" validate:"required,max=100,payref"`
	Email       string `json:"email" validate:"omitempty,email"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url"`
}

type initializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Initialize opens a hosted checkout for the authenticated shopper's order.
func Initialize(svc Service, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var req initializeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithReference(ctx, req.Reference)

		resp, err := svc.Initialize(ctx, paymentsvc.InitializeInput{
			Reference:   req.Reference,
			Email:       firstNonEmpty(req.Email, middleware.EmailFromContext(ctx)),
			CallbackURL: req.CallbackURL,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(logg.WithField(ctx, "user_id", middleware.UserIDFromContext(ctx)), "payment initialized")
		responses.WriteSuccess(w, initializeResponse{
			AuthorizationURL: resp.AuthorizationURL,
			AccessCode:       resp.AccessCode,
			Reference:        resp.Reference,
		})
	}
}

// Verify reconciles a reference against the gateway on demand.
func Verify(svc Service, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		reference, err := validators.Reference(chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out, err := svc.Verify(ctx, reference)
		if err != nil {
			responses.WriteError(logg.WithReference(ctx, reference), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// Webhook receives gateway events. Authenticated deliveries are always
// acknowledged with 200 so the provider does not retry on our failures.
func Webhook(svc Service, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		out, err := svc.HandleWebhook(ctx, payload, r.Header.Get(paystack.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(logg.WithField(ctx, "webhook", out.String()), "webhook processed")
		responses.WriteSuccess(w, map[string]any{"received": true})
	}
}

// Callback is the browser return from hosted checkout.
func Callback(svc Service, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		reference := validators.FirstQueryValue(r, "reference", "trxref")
		responses.Redirect(w, r, svc.HandleCallback(r.Context(), reference))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
