package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/securecookie"
)

// CookieBackend keeps the cart snapshot in a signed cookie named "cart", so it lives with the
// visitor's browser rather than on the server.
type CookieBackend struct {
	codec *securecookie.Codec
}

// NewCookieBackend constructs a backend signing snapshots with the given codec.
func NewCookieBackend(codec *securecookie.Codec) (*CookieBackend, error) {
	if codec == nil {
		return nil, errors.New("cart cookie backend: codec is required")
	}
	return &CookieBackend{codec: codec}, nil
}

// ForSession implements Backend. The session id is not needed because the cookie is per browser.
func (b *CookieBackend) ForSession(w http.ResponseWriter, r *http.Request, _ string) Persister {
	return &cookiePersister{codec: b.codec, w: w, r: r}
}

type cookiePersister struct {
	codec *securecookie.Codec
	w     http.ResponseWriter
	r     *http.Request
}

func (p *cookiePersister) Load(context.Context) (domain.Cart, error) {
	if p.r == nil {
		return domain.Cart{}, ErrNotPersisted
	}
	var cart domain.Cart
	if err := p.codec.Read(p.r, StorageKey, &cart); err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return domain.Cart{}, ErrNotPersisted
		}
		return domain.Cart{}, fmt.Errorf("cart cookie: %w", err)
	}
	return sanitise(cart), nil
}

func (p *cookiePersister) Save(_ context.Context, cart domain.Cart) error {
	if p.w == nil {
		return errors.New("cart cookie: response writer unavailable")
	}
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	if err := p.codec.Write(p.w, StorageKey, cart); err != nil {
		return fmt.Errorf("cart cookie: %w", err)
	}
	return nil
}
