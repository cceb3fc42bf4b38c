package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/auth"
	"github.com/tealshop/storefront/internal/platform/idempotency"
	"github.com/tealshop/storefront/internal/services"
)

type stubOrderService struct {
	placeCalls int
	placeCmd   services.PlaceOrderCommand
	placeErr   error
	orders     map[string]domain.Order
	listFilter services.OrderListFilter
	delivered  string
}

func (s *stubOrderService) PlaceOrder(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	s.placeCalls++
	s.placeCmd = cmd
	if s.placeErr != nil {
		return services.Order{}, s.placeErr
	}
	return domain.Order{ID: "ord_1", UserID: cmd.UserID, PaymentMethod: cmd.Request.PaymentMethod, TotalPrice: 129.98}, nil
}

func (s *stubOrderService) GetOrder(_ context.Context, orderID string, actor services.Actor) (services.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return services.Order{}, services.ErrOrderNotFound
	}
	if !actor.IsAdmin && order.UserID != actor.UserID {
		return services.Order{}, services.ErrOrderForbidden
	}
	return order, nil
}

func (s *stubOrderService) ListOrders(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	s.listFilter = filter
	return domain.CursorPage[services.Order]{Items: []domain.Order{{ID: "ord_1"}}, NextPageToken: "next"}, nil
}

func (s *stubOrderService) MarkPaid(context.Context, services.MarkPaidCommand) (services.Order, error) {
	return services.Order{}, nil
}

func (s *stubOrderService) MarkDelivered(_ context.Context, orderID string) (services.Order, error) {
	s.delivered = orderID
	return domain.Order{ID: orderID, IsDelivered: true}, nil
}

type stubPaymentService struct {
	sessionCmd services.PaymentSessionCommand
	confirmCmd services.ConfirmPaymentCommand
	err        error
}

func (s *stubPaymentService) CreateSession(_ context.Context, cmd services.PaymentSessionCommand) (services.PaymentSession, error) {
	s.sessionCmd = cmd
	if s.err != nil {
		return services.PaymentSession{}, s.err
	}
	return services.PaymentSession{ID: "cs_1", Provider: "stripe", RedirectURL: "https://pay.test/cs_1", ExpiresAt: time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)}, nil
}

func (s *stubPaymentService) ConfirmPayment(_ context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
	s.confirmCmd = cmd
	if s.err != nil {
		return services.Order{}, s.err
	}
	return domain.Order{ID: cmd.OrderID, IsPaid: true}, nil
}

func withIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newOrderRouter(identity *auth.Identity, orders *stubOrderService, payments *stubPaymentService) http.Handler {
	handlers := NewOrderHandlers(nil, orders,
		WithPaymentService(payments),
		WithIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())),
	)
	r := chi.NewRouter()
	r.Use(withIdentity(identity))
	r.Route("/api/v1/orders", handlers.Routes)
	return r
}

const orderBody = `{"orderItems":[{"productId":"p-lamp","quantity":2,"price":49.99}],` +
	`"shippingAddress":{"fullName":"Ada","address":"1 St","city":"London","postalCode":"N1","country":"UK"},` +
	`"paymentMethod":"PayPal","itemsPrice":99.98,"shippingPrice":15,"taxPrice":15,"totalPrice":129.98}`

func postOrder(router http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(idempotency.DefaultHeader, key)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestPlaceOrderCreatesOrder(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, orders, &stubPaymentService{})

	rr := postOrder(router, "key-1", orderBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("unexpected location %q", rr.Header().Get("Location"))
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["_id"] != "ord_1" {
		t.Fatalf("expected _id ord_1, got %v", body["_id"])
	}

	cmd := orders.placeCmd
	if cmd.UserID != "u-1" || len(cmd.Request.OrderItems) != 1 || cmd.Request.TotalPrice != 129.98 {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Request.ShippingAddress.City != "London" || cmd.Request.PaymentMethod != domain.PaymentMethodPayPal {
		t.Fatalf("unexpected request %+v", cmd.Request)
	}
}

func TestPlaceOrderReplaysRetries(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, orders, &stubPaymentService{})

	first := postOrder(router, "key-1", orderBody)
	second := postOrder(router, "key-1", orderBody)

	if orders.placeCalls != 1 {
		t.Fatalf("expected one placement, got %d", orders.placeCalls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed response, got %d %s", second.Code, second.Body.String())
	}
}

func TestPlaceOrderRequiresIdempotencyKey(t *testing.T) {
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, &stubOrderService{}, &stubPaymentService{})
	rr := postOrder(router, "", orderBody)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPlaceOrderOutOfStock(t *testing.T) {
	orders := &stubOrderService{placeErr: &domain.OutOfStockError{Items: []domain.StockShortage{
		{ProductID: "p-lamp", Name: "Lamp", Requested: 2, Available: 1},
	}}}
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, orders, &stubPaymentService{})

	rr := postOrder(router, "key-1", orderBody)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body struct {
		Error string                 `json:"error"`
		Items []domain.StockShortage `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "out_of_stock" || len(body.Items) != 1 || body.Items[0].Available != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestPlaceOrderValidationFailure(t *testing.T) {
	orders := &stubOrderService{placeErr: &domain.ValidationError{Fields: map[string]string{"paymentMethod": "is required"}}}
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, orders, &stubPaymentService{})

	rr := postOrder(router, "key-1", orderBody)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "validation_failed" || body.Fields["paymentMethod"] == "" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestPlaceOrderRejectsMalformedJSON(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, orders, &stubPaymentService{})

	rr := postOrder(router, "key-1", `{"orderItems":`)
	if rr.Code != http.StatusBadRequest || orders.placeCalls != 0 {
		t.Fatalf("expected 400 without placement, got %d (%d calls)", rr.Code, orders.placeCalls)
	}
}

func TestOrdersRequireIdentity(t *testing.T) {
	router := newOrderRouter(nil, &stubOrderService{}, &stubPaymentService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestGetOrderOwnership(t *testing.T) {
	orders := &stubOrderService{orders: map[string]domain.Order{"ord_1": {ID: "ord_1", UserID: "u-1"}}}

	cases := []struct {
		name     string
		identity *auth.Identity
		path     string
		want     int
	}{
		{"owner", &auth.Identity{UID: "u-1"}, "/api/v1/orders/ord_1", http.StatusOK},
		{"admin", &auth.Identity{UID: "a-1", Roles: []string{auth.RoleAdmin}}, "/api/v1/orders/ord_1", http.StatusOK},
		{"stranger", &auth.Identity{UID: "u-2"}, "/api/v1/orders/ord_1", http.StatusForbidden},
		{"missing", &auth.Identity{UID: "u-1"}, "/api/v1/orders/ord_x", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(tc.identity, orders, &stubPaymentService{})
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestListOrdersUsesIdentity(t *testing.T) {
	orders := &stubOrderService{}
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, orders, &stubPaymentService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?pageSize=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if orders.listFilter.UserID != "u-1" || orders.listFilter.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", orders.listFilter)
	}
	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 || body.NextPageToken != "next" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestPaymentEndpoints(t *testing.T) {
	payments := &stubPaymentService{}
	router := newOrderRouter(&auth.Identity{UID: "u-1", Email: "ada@example.com"}, &stubOrderService{}, payments)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/payment-session",
		bytes.NewBufferString(`{"successUrl":"https://shop.test/ok","cancelUrl":"https://shop.test/cancel"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var session paymentSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.URL != "https://pay.test/cs_1" || payments.sessionCmd.Actor.Email != "ada@example.com" {
		t.Fatalf("unexpected session %+v / %+v", session, payments.sessionCmd)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/pay", bytes.NewBufferString(`{"sessionId":"cs_1"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payments.confirmCmd.OrderID != "ord_1" || payments.confirmCmd.SessionID != "cs_1" {
		t.Fatalf("unexpected confirm %+v", payments.confirmCmd)
	}
}

func TestPayOrderIncomplete(t *testing.T) {
	payments := &stubPaymentService{err: services.ErrPaymentNotCompleted}
	router := newOrderRouter(&auth.Identity{UID: "u-1"}, &stubOrderService{}, payments)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/pay", bytes.NewBufferString(`{"sessionId":"cs_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
}

func TestDeliverOrderRequiresAdmin(t *testing.T) {
	orders := &stubOrderService{}

	router := newOrderRouter(&auth.Identity{UID: "u-1"}, orders, &stubPaymentService{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/deliver", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden || orders.delivered != "" {
		t.Fatalf("expected 403 without delivery, got %d", rr.Code)
	}

	router = newOrderRouter(&auth.Identity{UID: "a-1", Roles: []string{auth.RoleAdmin}}, orders, &stubPaymentService{})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/deliver", nil))
	if rr.Code != http.StatusOK || orders.delivered != "ord_1" {
		t.Fatalf("expected delivery by admin, got %d", rr.Code)
	}
}
