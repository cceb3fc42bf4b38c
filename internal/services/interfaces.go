package services

import (
	"context"
	"time"

	domain "github.com/tealshop/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	Order              = domain.Order
	OrderRequest       = domain.OrderRequest
	User               = domain.User
	PaymentResult      = domain.PaymentResult
	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the caller of an operation that is restricted to owners or admins.
type Actor struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// ProductListFilter narrows a catalogue listing.
type ProductListFilter struct {
	Category   string
	OrderBy    string
	Desc       bool
	Pagination Pagination
}

// CatalogService serves the read-only product catalogue.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
}

// PlaceOrderCommand carries the customer and the submitted order payload.
type PlaceOrderCommand struct {
	UserID  string
	Request OrderRequest
}

// OrderListFilter narrows order history to one customer.
type OrderListFilter struct {
	UserID     string
	Pagination Pagination
}

// MarkPaidCommand records a confirmed payment.
type MarkPaidCommand struct {
	OrderID string
	Result  PaymentResult
}

// OrderService places and tracks orders.
type OrderService interface {
	// PlaceOrder re-prices the request from the catalogue and commits it atomically with the
	// stock decrement. Stock shortages surface as *domain.OutOfStockError.
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error)
	MarkDelivered(ctx context.Context, orderID string) (Order, error)
}

// LoginCommand holds submitted credentials.
type LoginCommand struct {
	Email    string
	Password string
}

// LoginResult is a signed-in customer and their session token.
type LoginResult struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

// AuthService authenticates storefront customers.
type AuthService interface {
	Login(ctx context.Context, cmd LoginCommand) (LoginResult, error)
}

// PaymentSessionCommand asks for a hosted checkout page for an order.
type PaymentSessionCommand struct {
	OrderID    string
	Actor      Actor
	SuccessURL string
	CancelURL  string
}

// PaymentSession is the hosted checkout the customer is redirected to.
type PaymentSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// ConfirmPaymentCommand marks an order paid. Stripe orders carry the checkout session id;
// PayPal and cash-on-delivery orders are confirmed by an admin with a free-form reference.
type ConfirmPaymentCommand struct {
	OrderID   string
	Actor     Actor
	SessionID string
	Reference string
}

// PaymentService drives payment for placed orders.
type PaymentService interface {
	CreateSession(ctx context.Context, cmd PaymentSessionCommand) (PaymentSession, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
}

// SystemService exposes health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
