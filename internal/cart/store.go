package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	domain "github.com/tealshop/storefront/internal/domain"
)

// ErrItemNotFound is returned when a quantity update targets a slug that is not in the cart.
var ErrItemNotFound = errors.New("cart: item not found")

// Logger records structured store events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// StoreDeps configures a Store.
type StoreDeps struct {
	Persister Persister
	Logger    Logger
}

// Store is the per-session cart state container. Every mutation updates memory first and then
// writes the full snapshot through the persister. Persistence failures are logged and never undo
// the in-memory change.
type Store struct {
	mu        sync.Mutex
	cart      domain.Cart
	persister Persister
	logger    Logger
	lastErr   error
}

// Open reads the persisted cart once and returns a store seeded with it. A missing or unreadable
// snapshot yields an empty cart.
func Open(ctx context.Context, deps StoreDeps) (*Store, error) {
	if deps.Persister == nil {
		return nil, errors.New("cart store: persister is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	s := &Store{persister: deps.Persister, logger: logger}

	loaded, err := deps.Persister.Load(ctx)
	switch {
	case err == nil:
		s.cart = loaded
	case errors.Is(err, ErrNotPersisted):
	default:
		logger(ctx, "cart.load_failed", map[string]any{"error": err.Error()})
	}
	return s, nil
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Quantity returns the total number of units across all line items.
func (s *Store) Quantity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, item := range s.cart.Items {
		total += item.Quantity
	}
	return total
}

// Subtotal returns the rounded sum of quantity times price.
func (s *Store) Subtotal() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, item := range s.cart.Items {
		sum += float64(item.Quantity) * item.Price
	}
	return domain.Round2(sum)
}

// LastPersistError returns the error of the most recent failed save, if any.
func (s *Store) LastPersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// AddItem sets the quantity of the item's slug, appending the item when absent. The quantity is
// absolute, never added to an existing one.
func (s *Store) AddItem(ctx context.Context, item domain.LineItem, quantity int) (domain.Cart, error) {
	item.Slug = strings.TrimSpace(item.Slug)
	if item.Slug == "" {
		return s.Snapshot(), domain.NewValidationError("slug", "is required")
	}
	if quantity < 1 {
		return s.Snapshot(), domain.NewValidationError("quantity", "must be at least 1")
	}
	if item.Price < 0 {
		return s.Snapshot(), domain.NewValidationError("price", "must not be negative")
	}
	if quantity > item.Stock {
		return s.Snapshot(), &domain.OutOfStockError{Items: []domain.StockShortage{{
			ProductID: item.ProductID,
			Slug:      item.Slug,
			Name:      item.Name,
			Requested: quantity,
			Available: item.Stock,
		}}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(item, quantity)
	return s.persistLocked(ctx, "add_item")
}

// UpdateQuantity replaces the quantity of an existing line item. The quantity must lie within
// 1 and the stock known for that item.
func (s *Store) UpdateQuantity(ctx context.Context, slug string, quantity int) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cart.Find(strings.TrimSpace(slug))
	if idx < 0 {
		return s.cart.Clone(), ErrItemNotFound
	}
	item := s.cart.Items[idx]
	if quantity < 1 || quantity > item.Stock {
		return s.cart.Clone(), domain.NewValidationError("quantity", fmt.Sprintf("must be between 1 and %d", item.Stock))
	}
	s.upsert(item, quantity)
	return s.persistLocked(ctx, "update_quantity")
}

// RemoveItem deletes the line item with the given slug. Removing an absent slug is a no-op.
func (s *Store) RemoveItem(ctx context.Context, slug string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.cart.Find(strings.TrimSpace(slug)); idx >= 0 {
		s.cart.Items = append(s.cart.Items[:idx:idx], s.cart.Items[idx+1:]...)
	}
	return s.persistLocked(ctx, "remove_item")
}

// Clear empties the line items and drops the checkout nonce. The shipping address and payment
// method are kept.
func (s *Store) Clear(ctx context.Context) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Items = []domain.LineItem{}
	s.cart.CheckoutNonce = ""
	return s.persistLocked(ctx, "clear")
}

// CheckoutNonce returns the nonce of the current checkout attempt, creating and persisting one
// when the cart has none. It stays stable until Clear.
func (s *Store) CheckoutNonce(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart.CheckoutNonce == "" {
		s.cart.CheckoutNonce = strings.ToLower(ulid.Make().String())
		s.persistLocked(ctx, "checkout_nonce")
	}
	return s.cart.CheckoutNonce
}

// SetShippingAddress replaces the shipping address after validating every field.
func (s *Store) SetShippingAddress(ctx context.Context, addr domain.Address) (domain.Cart, error) {
	addr = domain.Address{
		FullName:   strings.TrimSpace(addr.FullName),
		Address:    strings.TrimSpace(addr.Address),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.TrimSpace(addr.Country),
	}
	if err := addr.Validate(); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.ShippingAddress = &addr
	return s.persistLocked(ctx, "set_shipping_address")
}

// SetPaymentMethod replaces the payment method.
func (s *Store) SetPaymentMethod(ctx context.Context, method domain.PaymentMethod) (domain.Cart, error) {
	if !method.Valid() {
		return s.Snapshot(), domain.NewValidationError("paymentMethod", "is not supported")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.PaymentMethod = method
	return s.persistLocked(ctx, "set_payment_method")
}

func (s *Store) upsert(item domain.LineItem, quantity int) {
	item.Quantity = quantity
	if idx := s.cart.Find(item.Slug); idx >= 0 {
		s.cart.Items[idx] = item
		return
	}
	s.cart.Items = append(s.cart.Items, item)
}

func (s *Store) persistLocked(ctx context.Context, action string) (domain.Cart, error) {
	snapshot := s.cart.Clone()
	if err := s.persister.Save(ctx, snapshot); err != nil {
		s.lastErr = err
		s.logger(ctx, "cart.persist_failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
		return snapshot, nil
	}
	s.lastErr = nil
	return snapshot, nil
}
