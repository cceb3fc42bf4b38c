package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/payments"
)

var (
	// ErrPaymentUnavailable indicates no PSP is configured for the order's payment method.
	ErrPaymentUnavailable = errors.New("payment: provider not configured")
	// ErrPaymentInvalidState indicates the order cannot take this payment action.
	ErrPaymentInvalidState = errors.New("payment: invalid order state")
	// ErrPaymentNotCompleted indicates the PSP has not captured the payment yet.
	ErrPaymentNotCompleted = errors.New("payment: not completed")
	// ErrPaymentMismatch indicates the PSP session belongs to another order or amount.
	ErrPaymentMismatch = errors.New("payment: session does not match order")
)

// PaymentServiceDeps bundles constructor inputs for the payment service.
type PaymentServiceDeps struct {
	Orders   OrderService
	Provider payments.Provider
	Currency string
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders   OrderService
	provider payments.Provider
	currency string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs the payment service. Provider may be nil, in which case only
// manual confirmations work.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:   deps.Orders,
		provider: deps.Provider,
		currency: strings.TrimSpace(deps.Currency),
		logger:   logger,
	}, nil
}

func (s *paymentService) CreateSession(ctx context.Context, cmd PaymentSessionCommand) (PaymentSession, error) {
	order, err := s.orders.GetOrder(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return PaymentSession{}, err
	}
	if order.IsPaid {
		return PaymentSession{}, fmt.Errorf("%w: order %s is already paid", ErrPaymentInvalidState, order.ID)
	}
	if order.PaymentMethod != domain.PaymentMethodStripe {
		return PaymentSession{}, fmt.Errorf("%w: order %s is paid with %s", ErrPaymentInvalidState, order.ID, order.PaymentMethod)
	}
	if s.provider == nil {
		return PaymentSession{}, ErrPaymentUnavailable
	}

	fields := map[string]string{}
	if strings.TrimSpace(cmd.SuccessURL) == "" {
		fields["successUrl"] = "is required"
	}
	if strings.TrimSpace(cmd.CancelURL) == "" {
		fields["cancelUrl"] = "is required"
	}
	if len(fields) > 0 {
		return PaymentSession{}, &domain.ValidationError{Fields: fields}
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   payments.MinorUnits(item.Price),
		})
	}

	session, err := s.provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		CustomerEmail:  cmd.Actor.Email,
		Currency:       s.currency,
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		Items:          items,
		ShippingAmount: payments.MinorUnits(order.ShippingPrice),
		TaxAmount:      payments.MinorUnits(order.TaxPrice),
	})
	if err != nil {
		return PaymentSession{}, &domain.NetworkError{Op: "payments.create_session", Err: err}
	}
	s.logger(ctx, "payment.session.created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
	})
	return PaymentSession{
		ID:          session.ID,
		Provider:    session.Provider,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// ConfirmPayment is idempotent: an order that is already paid is returned unchanged.
func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	order, err := s.orders.GetOrder(ctx, cmd.OrderID, cmd.Actor)
	if err != nil {
		return Order{}, err
	}
	if order.IsPaid {
		return order, nil
	}

	var result domain.PaymentResult
	switch order.PaymentMethod {
	case domain.PaymentMethodStripe:
		result, err = s.verifyStripe(ctx, order, cmd.SessionID)
		if err != nil {
			return Order{}, err
		}
	case domain.PaymentMethodPayPal, domain.PaymentMethodCashOnDelivery:
		if !cmd.Actor.IsAdmin {
			return Order{}, fmt.Errorf("%w: %s payments are confirmed by an admin", ErrOrderForbidden, order.PaymentMethod)
		}
		result = domain.PaymentResult{
			Provider:  strings.ToLower(string(order.PaymentMethod)),
			Reference: strings.TrimSpace(cmd.Reference),
			Status:    "confirmed",
		}
	default:
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrPaymentInvalidState, order.PaymentMethod)
	}

	return s.orders.MarkPaid(ctx, MarkPaidCommand{OrderID: order.ID, Result: result})
}

func (s *paymentService) verifyStripe(ctx context.Context, order Order, sessionID string) (domain.PaymentResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.PaymentResult{}, domain.NewValidationError("sessionId", "is required")
	}
	if s.provider == nil {
		return domain.PaymentResult{}, ErrPaymentUnavailable
	}
	details, err := s.provider.LookupSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return domain.PaymentResult{}, fmt.Errorf("%w: %v", ErrPaymentMismatch, err)
		}
		return domain.PaymentResult{}, &domain.NetworkError{Op: "payments.lookup_session", Err: err}
	}
	if details.OrderID != order.ID {
		s.logger(ctx, "payment.session.mismatch", map[string]any{
			"orderId":        order.ID,
			"sessionOrderId": details.OrderID,
			"sessionId":      sessionID,
		})
		return domain.PaymentResult{}, ErrPaymentMismatch
	}
	if details.Status != payments.StatusSucceeded {
		return domain.PaymentResult{}, fmt.Errorf("%w: session %s is %s", ErrPaymentNotCompleted, sessionID, details.Status)
	}
	if want := payments.MinorUnits(order.TotalPrice); details.Amount != want {
		s.logger(ctx, "payment.amount.mismatch", map[string]any{
			"orderId":  order.ID,
			"expected": want,
			"actual":   details.Amount,
		})
		return domain.PaymentResult{}, ErrPaymentMismatch
	}
	return domain.PaymentResult{
		Provider:  details.Provider,
		Reference: details.SessionID,
		Status:    string(details.Status),
		Email:     details.Email,
	}, nil
}
