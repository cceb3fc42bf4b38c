package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/tealshop/storefront/internal/domain"
)

const defaultRedisTTL = 30 * 24 * time.Hour

// RedisBackend stores session carts in Redis under session:{id}:cart with a sliding TTL.
type RedisBackend struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisBackend constructs a Redis-backed cart backend. A non-positive ttl selects 30 days.
func NewRedisBackend(client redis.Cmdable, ttl time.Duration) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("cart redis backend: client is required")
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisBackend{client: client, ttl: ttl}, nil
}

// ForSession implements Backend.
func (b *RedisBackend) ForSession(_ http.ResponseWriter, _ *http.Request, sessionID string) Persister {
	return b.Persister(sessionID)
}

// Persister returns the persister for a session.
func (b *RedisBackend) Persister(sessionID string) Persister {
	return &redisPersister{backend: b, key: sessionKey(sessionID)}
}

type redisPersister struct {
	backend *RedisBackend
	key     string
}

func (p *redisPersister) Load(ctx context.Context) (domain.Cart, error) {
	data, err := p.backend.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, ErrNotPersisted
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart redis: get %s: %w", p.key, err)
	}
	return Decode(data)
}

func (p *redisPersister) Save(ctx context.Context, cart domain.Cart) error {
	data, err := Encode(cart)
	if err != nil {
		return err
	}
	if err := p.backend.client.Set(ctx, p.key, data, p.backend.ttl).Err(); err != nil {
		return fmt.Errorf("cart redis: set %s: %w", p.key, err)
	}
	return nil
}
