package repositories

import (
	"context"
	"time"

	domain "github.com/tealshop/storefront/internal/domain"
)

// RepositoryError classifies persistence failures for the service layer.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductFilter narrows a catalogue listing.
type ProductFilter struct {
	Category  string
	OrderBy   string
	Desc      bool
	PageSize  int
	PageToken string
}

// ProductRepository reads the catalogue.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	List(ctx context.Context, filter ProductFilter) (domain.CursorPage[domain.Product], error)
}

// PlacementLine is one product and quantity to take from stock.
type PlacementLine struct {
	ProductID string
	Quantity  int
}

// PlacementRequest describes an order to commit. Lines drive the stock check; Order is the
// fully priced snapshot written when every line can be satisfied.
type PlacementRequest struct {
	Order domain.Order
	Lines []PlacementLine
}

// OrderListFilter narrows order history.
type OrderListFilter struct {
	UserID     string
	Pagination domain.Pagination
}

// OrderRepository persists orders.
type OrderRepository interface {
	// Place decrements stock for every line and creates the order in one transaction. When any
	// line is short it returns *domain.OutOfStockError listing every short line and writes nothing.
	Place(ctx context.Context, req PlacementRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	MarkPaid(ctx context.Context, orderID string, result domain.PaymentResult, paidAt time.Time) (domain.Order, error)
	MarkDelivered(ctx context.Context, orderID string, deliveredAt time.Time) (domain.Order, error)
}

// UserRepository stores customer accounts.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
}

// HealthRepository reports the status of downstream dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
