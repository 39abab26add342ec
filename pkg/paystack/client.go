package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/storefront-payments/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
)

const (
	defaultBaseURL             = "https://api.paystack.co"
	defaultTimeout             = 10 * time.Second
	defaultRetryBase           = 200 * time.Millisecond
	defaultRetryCap            = 2 * time.Second
	responseBodyLimit    int64 = 1 << 20
	errorBodyLogLimit          = 512
	initializePath             = "transaction/initialize"
	verifyPathTemplate         = "transaction/verify/%s"
	referenceNotFoundHit       = "not found"
)

var errSecretKeyRequired = errors.New("paystack secret key is required")

// Client talks to the Paystack transaction API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	timeout    time.Duration
	retries    uint64
	retryBase  time.Duration
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout bounds every individual HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithVerifyRetries sets how many extra attempts Verify makes on transient failures.
func WithVerifyRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = uint64(n)
		}
	}
}

// WithRetryBase sets the first backoff delay between verify attempts.
func WithRetryBase(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryBase = d
		}
	}
}

// NewClient builds a client with the account secret key.
func NewClient(secretKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(secretKey)
	if trimmedKey == "" {
		return nil, errSecretKeyRequired
	}

	client := &Client{
		secretKey: trimmedKey,
		baseURL:   defaultBaseURL,
		timeout:   defaultTimeout,
		retryBase: defaultRetryBase,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}
	return client, nil
}

// NewClientFromConfig wires the client from environment configuration.
func NewClientFromConfig(cfg config.PaystackConfig, opts ...Option) (*Client, error) {
	base := []Option{
		WithBaseURL(cfg.BaseURL),
		WithTimeout(cfg.Timeout),
		WithVerifyRetries(cfg.VerifyRetries),
	}
	return NewClient(cfg.SecretKey, append(base, opts...)...)
}

// Initialize opens a hosted checkout for the order. It is never retried: a
// duplicate initialize for the same reference is rejected by the gateway.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if strings.TrimSpace(req.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	payload, err := json.Marshal(initializeBody{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Reference:   req.Reference,
		Currency:    req.Currency,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal initialize request")
	}

	var out envelope[InitializeResponse]
	if err := c.do(ctx, http.MethodPost, initializePath, payload, &out); err != nil {
		return nil, unwrapAttempt(err, "initialize transaction")
	}
	return &out.Data, nil
}

// Verify fetches the authoritative state of a transaction. Transient failures
// are retried with exponential backoff up to the configured attempt count.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	path := fmt.Sprintf(verifyPathTemplate, url.PathEscape(trimmed))

	backoff := retry.WithMaxRetries(c.retries, retry.WithCappedDuration(defaultRetryCap, retry.NewExponential(c.retryBase)))

	var out envelope[Transaction]
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out = envelope[Transaction]{}
		err := c.do(ctx, http.MethodGet, path, nil, &out)
		var ae *attemptError
		if errors.As(err, &ae) && ae.transient {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, unwrapAttempt(err, "verify transaction")
	}
	if out.Data.Reference == "" {
		out.Data.Reference = trimmed
	}
	return &out.Data, nil
}

// attemptError classifies a single HTTP exchange.
type attemptError struct {
	status    int
	message   string
	transient bool
	notFound  bool
	cause     error
}

func (e *attemptError) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return fmt.Sprintf("status %d: %s", e.status, e.message)
}

func (e *attemptError) Unwrap() error { return e.cause }

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, c.buildURL(path), reader)
	if err != nil {
		return &attemptError{cause: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &attemptError{cause: err, transient: true}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return &attemptError{status: resp.StatusCode, cause: err, transient: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := apiMessage(raw)
		return &attemptError{
			status:    resp.StatusCode,
			message:   msg,
			transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			notFound:  resp.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(msg), referenceNotFoundHit),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &attemptError{status: resp.StatusCode, cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func unwrapAttempt(err error, op string) error {
	var ae *attemptError
	if !errors.As(err, &ae) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" timed out")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" failed")
	}
	if ae.notFound {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, ae, "transaction reference not found")
	}
	if ae.cause != nil && (errors.Is(ae.cause, context.DeadlineExceeded) || errors.Is(ae.cause, context.Canceled)) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, ae, op+" timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, ae, op+" failed")
}

func apiMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > errorBodyLogLimit {
		msg = msg[:errorBodyLogLimit]
	}
	return msg
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
