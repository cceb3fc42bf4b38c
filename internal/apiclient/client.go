package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	domain "github.com/tealshop/storefront/internal/domain"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 64 << 10
)

var (
	// ErrNotFound is returned when the API answers 404.
	ErrNotFound = errors.New("apiclient: not found")
	// ErrUnauthorized is returned when credentials are rejected outside of a guarded step.
	ErrUnauthorized = errors.New("apiclient: unauthorized")
)

// Options tunes the client.
type Options struct {
	Timeout          time.Duration
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Transport        http.RoundTripper
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

// Client talks to the storefront API. Transport failures, 5xx answers and an open circuit all
// surface as *domain.NetworkError so callers can keep local state untouched.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[response]
	logger  func(ctx context.Context, event string, fields map[string]any)
}

type response struct {
	status int
	body   []byte
}

type tokenKey struct{}

// WithBearer attaches the session token used for authenticated calls.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, strings.TrimSpace(token))
}

func bearer(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// New constructs a client for the API mounted at baseURL (for example http://api:8080/api/v1).
func New(baseURL string, opts Options) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        "storefront-api",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "apiclient.breaker_state", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// ProductQuery filters a catalogue listing.
type ProductQuery struct {
	Category  string
	PageSize  int
	PageToken string
}

type productPage struct {
	Items         []domain.Product `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

// ListProducts returns one page of the catalogue.
func (c *Client) ListProducts(ctx context.Context, q ProductQuery) (domain.CursorPage[domain.Product], error) {
	values := url.Values{}
	if q.Category != "" {
		values.Set("category", q.Category)
	}
	if q.PageSize > 0 {
		values.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.PageToken != "" {
		values.Set("pageToken", q.PageToken)
	}
	var page productPage
	if err := c.do(ctx, "list products", http.MethodGet, "/products", values, nil, "", &page); err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return domain.CursorPage[domain.Product]{Items: page.Items, NextPageToken: page.NextPageToken}, nil
}

// GetProduct fetches a product with its live stock.
func (c *Client) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, "get product", http.MethodGet, "/products/"+url.PathEscape(productID), nil, nil, "", &product)
	return product, err
}

// GetProductBySlug fetches a product by its URL slug.
func (c *Client) GetProductBySlug(ctx context.Context, slug string) (domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, "get product by slug", http.MethodGet, "/products/slug/"+url.PathEscape(slug), nil, nil, "", &product)
	return product, err
}

// CreateOrder submits the order under idempotencyKey. Resubmitting with the same key replays the
// first outcome instead of creating a second order; an empty key gets a fresh one.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest, idempotencyKey string) (domain.Order, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	var order domain.Order
	err := c.do(ctx, "create order", http.MethodPost, "/orders", nil, req, idempotencyKey, &order)
	return order, err
}

// GetOrder fetches an order visible to the bearer.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := c.do(ctx, "get order", http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, nil, "", &order)
	return order, err
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      domain.User
}

type loginPayload struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"isAdmin"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var payload loginPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, body, "", &payload); err != nil {
		return Session{}, err
	}
	return Session{
		Token:     payload.Token,
		ExpiresAt: payload.ExpiresAt,
		User: domain.User{
			ID:      payload.ID,
			Name:    payload.Name,
			Email:   payload.Email,
			IsAdmin: payload.IsAdmin,
		},
	}, nil
}

// PaymentSession is a hosted checkout the visitor is redirected to.
type PaymentSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreatePaymentSession opens a hosted payment page for an unpaid order.
func (c *Client) CreatePaymentSession(ctx context.Context, orderID, successURL, cancelURL string) (PaymentSession, error) {
	var session PaymentSession
	body := map[string]string{"successUrl": successURL, "cancelUrl": cancelURL}
	err := c.do(ctx, "create payment session", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/payment-session", nil, body, uuid.NewString(), &session)
	return session, err
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in any, idempotencyKey string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("apiclient: encode %s: %w", op, err)
		}
	}

	resp, err := c.breaker.Execute(func() (response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return response{}, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := bearer(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if idempotencyKey != "" {
			req.Header.Set(idempotencyHeader, idempotencyKey)
		}

		httpResp, err := c.http.Do(req)
		if err != nil {
			return response{}, err
		}
		defer httpResp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
		if err != nil {
			return response{}, err
		}
		r := response{status: httpResp.StatusCode, body: data}
		if r.status >= http.StatusInternalServerError {
			return r, fmt.Errorf("status %d", r.status)
		}
		return r, nil
	})
	if err != nil {
		c.logger(ctx, "apiclient.request_failed", map[string]any{
			"op":     op,
			"status": resp.status,
			"error":  err.Error(),
		})
		return &domain.NetworkError{Op: op, Err: err}
	}

	if resp.status >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || len(resp.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("apiclient: decode %s: %w", op, err)
	}
	return nil
}

type errorEnvelope struct {
	Code     string                 `json:"error"`
	Message  string                 `json:"message"`
	Fields   map[string]string      `json:"fields"`
	Items    []domain.StockShortage `json:"items"`
	Redirect string                 `json:"redirect"`
}

type statusError struct {
	status  int
	code    string
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("apiclient: status %d", e.status)
	}
	return fmt.Sprintf("apiclient: status %d: %s", e.status, e.message)
}

func decodeError(resp response) error {
	var env errorEnvelope
	if len(resp.body) > 0 && len(resp.body) <= maxErrorBody {
		_ = json.Unmarshal(resp.body, &env)
	}
	switch {
	case env.Code == "idempotency_in_progress":
		return &domain.NetworkError{Op: "request in progress", Err: errors.New(env.Message)}
	case env.Code == "out_of_stock" || (resp.status == http.StatusConflict && env.Code == ""):
		return &domain.OutOfStockError{Items: env.Items}
	case resp.status == http.StatusBadRequest || resp.status == http.StatusUnprocessableEntity:
		fields := env.Fields
		if len(fields) == 0 {
			fields = map[string]string{"request": strings.TrimSpace(env.Message)}
		}
		return &domain.ValidationError{Fields: fields}
	case resp.status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, env.Message)
	case resp.status == http.StatusNotFound:
		return ErrNotFound
	}
	return &statusError{status: resp.status, code: env.Code, message: env.Message}
}

// ConfirmPayment asks the API to verify a completed hosted payment and mark the order paid.
func (c *Client) ConfirmPayment(ctx context.Context, orderID, sessionID string) (domain.Order, error) {
	var order domain.Order
	body := map[string]string{"sessionId": sessionID}
	err := c.do(ctx, "confirm payment", http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/pay", nil, body, "", &order)
	return order, err
}
