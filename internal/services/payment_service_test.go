package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/payments"
)

type stubProvider struct {
	request payments.CheckoutSessionRequest
	details payments.PaymentDetails
	err     error
}

func (s *stubProvider) CreateCheckoutSession(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.request = req
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	return payments.CheckoutSession{ID: "cs_1", Provider: "stripe", RedirectURL: "https://pay.test/cs_1"}, nil
}

func (s *stubProvider) LookupSession(context.Context, string) (payments.PaymentDetails, error) {
	return s.details, s.err
}

func newPaymentFixture(t *testing.T, method domain.PaymentMethod, provider payments.Provider) (PaymentService, *stubOrderRepo) {
	t.Helper()
	orders := &stubOrderRepo{orders: map[string]domain.Order{
		"ord_1": {
			ID:            "ord_1",
			UserID:        "u-1",
			PaymentMethod: method,
			Items:         []domain.OrderItem{{ProductID: "p-lamp", Name: "Lamp", Price: 49.99, Quantity: 2}},
			ItemsPrice:    99.98,
			ShippingPrice: 15,
			TaxPrice:      15,
			TotalPrice:    129.98,
		},
	}}
	orderSvc, err := NewOrderService(OrderServiceDeps{Orders: orders, Products: &stubProductRepo{}})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	svc, err := NewPaymentService(PaymentServiceDeps{Orders: orderSvc, Provider: provider, Currency: "usd"})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return svc, orders
}

var owner = Actor{UserID: "u-1", Email: "ada@example.com"}

func TestPaymentServiceCreateSession(t *testing.T) {
	provider := &stubProvider{}
	svc, _ := newPaymentFixture(t, domain.PaymentMethodStripe, provider)

	session, err := svc.CreateSession(context.Background(), PaymentSessionCommand{
		OrderID:    "ord_1",
		Actor:      owner,
		SuccessURL: "https://shop.test/order/ord_1?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://shop.test/order/ord_1",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.RedirectURL != "https://pay.test/cs_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	req := provider.request
	if req.OrderID != "ord_1" || req.CustomerEmail != "ada@example.com" || req.Currency != "usd" {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.Items) != 1 || req.Items[0].Amount != 4999 || req.ShippingAmount != 1500 || req.TaxAmount != 1500 {
		t.Fatalf("unexpected amounts %+v", req)
	}
}

func TestPaymentServiceCreateSessionRejectsOtherMethods(t *testing.T) {
	svc, _ := newPaymentFixture(t, domain.PaymentMethodPayPal, &stubProvider{})
	_, err := svc.CreateSession(context.Background(), PaymentSessionCommand{OrderID: "ord_1", Actor: owner, SuccessURL: "s", CancelURL: "c"})
	if !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected ErrPaymentInvalidState, got %v", err)
	}
}

func TestPaymentServiceCreateSessionForbiddenForStrangers(t *testing.T) {
	svc, _ := newPaymentFixture(t, domain.PaymentMethodStripe, &stubProvider{})
	_, err := svc.CreateSession(context.Background(), PaymentSessionCommand{OrderID: "ord_1", Actor: Actor{UserID: "u-2"}, SuccessURL: "s", CancelURL: "c"})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
}

func TestPaymentServiceConfirmStripe(t *testing.T) {
	provider := &stubProvider{details: payments.PaymentDetails{
		Provider:  "stripe",
		SessionID: "cs_1",
		OrderID:   "ord_1",
		Status:    payments.StatusSucceeded,
		Amount:    12998,
		Email:     "ada@example.com",
	}}
	svc, orders := newPaymentFixture(t, domain.PaymentMethodStripe, provider)

	order, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", Actor: owner, SessionID: "cs_1"})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if !order.IsPaid || orders.paid.Reference != "cs_1" || orders.paid.Email != "ada@example.com" {
		t.Fatalf("unexpected paid order %+v / %+v", order, orders.paid)
	}

	again, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", Actor: owner})
	if err != nil || !again.IsPaid {
		t.Fatalf("expected idempotent confirmation, got %+v %v", again, err)
	}
}

func TestPaymentServiceConfirmStripeRejectsMismatches(t *testing.T) {
	cases := []struct {
		name    string
		details payments.PaymentDetails
		want    error
	}{
		{"other order", payments.PaymentDetails{OrderID: "ord_2", Status: payments.StatusSucceeded, Amount: 12998}, ErrPaymentMismatch},
		{"wrong amount", payments.PaymentDetails{OrderID: "ord_1", Status: payments.StatusSucceeded, Amount: 100}, ErrPaymentMismatch},
		{"unpaid", payments.PaymentDetails{OrderID: "ord_1", Status: payments.StatusPending, Amount: 12998}, ErrPaymentNotCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, orders := newPaymentFixture(t, domain.PaymentMethodStripe, &stubProvider{details: tc.details})
			_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", Actor: owner, SessionID: "cs_1"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if orders.orders["ord_1"].IsPaid {
				t.Fatal("order must stay unpaid")
			}
		})
	}
}

func TestPaymentServiceConfirmStripeProviderDown(t *testing.T) {
	svc, _ := newPaymentFixture(t, domain.PaymentMethodStripe, &stubProvider{err: errors.New("timeout")})
	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", Actor: owner, SessionID: "cs_1"})
	if !domain.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestPaymentServiceManualConfirmationNeedsAdmin(t *testing.T) {
	svc, orders := newPaymentFixture(t, domain.PaymentMethodCashOnDelivery, nil)

	if _, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", Actor: owner}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	order, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{
		OrderID:   "ord_1",
		Actor:     Actor{UserID: "admin", IsAdmin: true},
		Reference: "cash-desk-7",
	})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if !order.IsPaid || orders.paid.Provider != "cashondelivery" || orders.paid.Reference != "cash-desk-7" {
		t.Fatalf("unexpected payment %+v", orders.paid)
	}
}
