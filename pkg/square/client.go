package square

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
)

const defaultTimeout = 15 * time.Second

var hosts = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

// Client creates orders through the Square Orders API.
type Client struct {
	sdk        *sqclient.Client
	locationID string
	logg       *logger.Logger
}

// NewClient validates cfg and builds an SDK client for the configured environment.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	host, err := hostFor(cfg.Environment())
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	location := strings.TrimSpace(cfg.LocationID)
	switch {
	case token == "":
		return nil, errors.New("square access token is required")
	case location == "":
		return nil, errors.New("square location id is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		sdk: sqclient.NewClient(
			sqoption.WithBaseURL(host),
			sqoption.WithToken(token),
			sqoption.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		locationID: location,
		logg:       logg,
	}
	logg.Info(logg.WithField(ctx, "square_host", host), "square client ready")
	return c, nil
}

// CreateOrder creates a Square order. Replaying the same IdempotencyKey
// returns the order created by the first call.
func (c *Client) CreateOrder(ctx context.Context, params OrderCreateParams) (*sq.Order, error) {
	if c == nil || c.sdk == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square client not configured")
	}
	if params.LocationID == "" {
		params.LocationID = c.locationID
	}
	key := strings.TrimSpace(params.IdempotencyKey)
	if key == "" {
		key = "sf-order-" + uuid.NewString()
	}

	ctx = c.logg.WithFields(ctx, map[string]any{
		"square_op":    "create_order",
		"reference_id": params.ReferenceID,
		"location_id":  params.LocationID,
	})
	started := time.Now()

	resp, err := c.sdk.Orders.Create(ctx, params.toSquareRequest(key))
	if err != nil {
		mapped := classify(err, "create order")
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "square call failed")
		return nil, mapped
	}

	order := resp.GetOrder()
	if order == nil || order.GetID() == nil || *order.GetID() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square create order returned no order id")
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"remote_order_id": *order.GetID(),
		"took_ms":         time.Since(started).Milliseconds(),
	}), "square order created")
	return order, nil
}

// classify turns an SDK failure into a coded error. Throttling, timeouts and
// 5xx responses come back as retryable dependency errors.
func classify(err error, op string) error {
	msg := "square " + op + " failed"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" timed out")
	}

	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	for _, detail := range apiErrors(apiErr) {
		switch {
		case detail.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, msg)
		case detail.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg)
		}
	}

	status := apiErr.StatusCode
	var code pkgerrors.Code
	switch {
	case status == http.StatusUnauthorized:
		code = pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		code = pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		code = pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		code = pkgerrors.CodeConflict
	case status == http.StatusUnprocessableEntity:
		code = pkgerrors.CodeStateConflict
	case status == http.StatusTooManyRequests, status >= 500:
		code = pkgerrors.CodeDependency
	case status >= 400:
		code = pkgerrors.CodeValidation
	default:
		code = pkgerrors.CodeDependency
	}
	return pkgerrors.Wrap(code, err, msg)
}

// apiErrors decodes the {"errors": [...]} body Square attaches to failures.
func apiErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body) != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func hostFor(env string) (string, error) {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		env = "sandbox"
	}
	host, ok := hosts[env]
	if !ok {
		return "", errors.New(`square environment must be "sandbox" or "production"`)
	}
	return host, nil
}
