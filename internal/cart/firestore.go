package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	domain "github.com/tealshop/storefront/internal/domain"
	pfirestore "github.com/tealshop/storefront/internal/platform/firestore"
)

const firestoreCartCollection = "sessionCarts"

type firestoreCartDocument struct {
	Payload   string    `firestore:"cart"`
	ItemCount int       `firestore:"itemCount"`
	UpdatedAt time.Time `firestore:"updatedAt"`
	// ExpiresAt drives the collection's TTL policy.
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// FirestoreBackend stores session carts as documents keyed by session.
type FirestoreBackend struct {
	base *pfirestore.BaseRepository[firestoreCartDocument]
	ttl  time.Duration
	now  func() time.Time
}

// NewFirestoreBackend constructs a Firestore-backed cart backend. A non-positive ttl selects 30 days.
func NewFirestoreBackend(provider *pfirestore.Provider, ttl time.Duration) (*FirestoreBackend, error) {
	if provider == nil {
		return nil, errors.New("cart firestore backend: provider is required")
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &FirestoreBackend{
		base: pfirestore.NewBaseRepository[firestoreCartDocument](provider, firestoreCartCollection),
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

// ForSession implements Backend.
func (b *FirestoreBackend) ForSession(_ http.ResponseWriter, _ *http.Request, sessionID string) Persister {
	return b.Persister(sessionID)
}

// Persister returns the persister for a session.
func (b *FirestoreBackend) Persister(sessionID string) Persister {
	return &firestorePersister{backend: b, id: sessionKey(sessionID)}
}

type firestorePersister struct {
	backend *FirestoreBackend
	id      string
}

func (p *firestorePersister) Load(ctx context.Context) (domain.Cart, error) {
	doc, err := p.backend.base.Get(ctx, p.id)
	if err != nil {
		var ferr *pfirestore.Error
		if errors.As(err, &ferr) && ferr.IsNotFound() {
			return domain.Cart{}, ErrNotPersisted
		}
		return domain.Cart{}, fmt.Errorf("cart firestore: get %s: %w", p.id, err)
	}
	// TTL deletion is eventual; an expired document is treated as gone.
	if !doc.Data.ExpiresAt.IsZero() && !p.backend.now().Before(doc.Data.ExpiresAt) {
		return domain.Cart{}, ErrNotPersisted
	}
	return Decode([]byte(doc.Data.Payload))
}

func (p *firestorePersister) Save(ctx context.Context, cart domain.Cart) error {
	data, err := Encode(cart)
	if err != nil {
		return err
	}
	now := p.backend.now().UTC()
	doc := firestoreCartDocument{
		Payload:   string(data),
		ItemCount: len(cart.Items),
		UpdatedAt: now,
		ExpiresAt: now.Add(p.backend.ttl),
	}
	if err := p.backend.base.Set(ctx, p.id, doc); err != nil {
		return fmt.Errorf("cart firestore: set %s: %w", p.id, err)
	}
	return nil
}
