package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	domain "github.com/tealshop/storefront/internal/domain"
)

// StorageKey is the key under which the cart snapshot is persisted.
const StorageKey = "cart"

// ErrNotPersisted is returned by Load when nothing has been stored yet.
var ErrNotPersisted = errors.New("cart: nothing persisted")

// Persister stores the serialised cart for one visitor session.
type Persister interface {
	Load(ctx context.Context) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
}

// Backend hands out persisters scoped to a single visitor session. The request and response are
// available for backends that keep the snapshot client-side.
type Backend interface {
	ForSession(w http.ResponseWriter, r *http.Request, sessionID string) Persister
}

// Encode serialises the cart as {cartItems, shippingAddress, paymentMethod}, plus checkoutNonce
// while an order submission is pending.
func Encode(cart domain.Cart) ([]byte, error) {
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return nil, fmt.Errorf("cart: encode: %w", err)
	}
	return data, nil
}

// Decode parses a persisted snapshot. Items with an empty slug or a non-positive quantity are dropped.
func Decode(data []byte) (domain.Cart, error) {
	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, fmt.Errorf("cart: decode: %w", err)
	}
	return sanitise(cart), nil
}

func sanitise(cart domain.Cart) domain.Cart {
	items := make([]domain.LineItem, 0, len(cart.Items))
	seen := make(map[string]int, len(cart.Items))
	for _, item := range cart.Items {
		if item.Slug == "" || item.Quantity < 1 {
			continue
		}
		if idx, ok := seen[item.Slug]; ok {
			items[idx] = item
			continue
		}
		seen[item.Slug] = len(items)
		items = append(items, item)
	}
	cart.Items = items
	if cart.PaymentMethod != "" && !cart.PaymentMethod.Valid() {
		cart.PaymentMethod = ""
	}
	return cart
}

// MemoryBackend keeps snapshots in process memory, keyed by session.
type MemoryBackend struct {
	mu    sync.RWMutex
	carts map[string][]byte
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{carts: make(map[string][]byte)}
}

// ForSession implements Backend.
func (b *MemoryBackend) ForSession(_ http.ResponseWriter, _ *http.Request, sessionID string) Persister {
	return b.Persister(sessionID)
}

// Persister returns the persister for a session.
func (b *MemoryBackend) Persister(sessionID string) Persister {
	return &memoryPersister{backend: b, key: sessionKey(sessionID)}
}

type memoryPersister struct {
	backend *MemoryBackend
	key     string
}

func (p *memoryPersister) Load(context.Context) (domain.Cart, error) {
	p.backend.mu.RLock()
	data, ok := p.backend.carts[p.key]
	p.backend.mu.RUnlock()
	if !ok {
		return domain.Cart{}, ErrNotPersisted
	}
	return Decode(data)
}

func (p *memoryPersister) Save(_ context.Context, cart domain.Cart) error {
	data, err := Encode(cart)
	if err != nil {
		return err
	}
	p.backend.mu.Lock()
	p.backend.carts[p.key] = data
	p.backend.mu.Unlock()
	return nil
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:%s", sessionID, StorageKey)
}
