package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 15 * time.Minute
	// maxJitter spreads expirations of carts written in the same burst.
	maxJitter = 5 * time.Minute
	keyPrefix = "basket:cart:"
)

// setIfNewer writes ARGV[1] with a PX of ARGV[3] unless the stored cart
// carries a version above ARGV[2]. An undecodable entry is overwritten.
var setIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, stored = pcall(cjson.decode, current)
	if ok and type(stored) == 'table' and tonumber(stored.version) and tonumber(stored.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisCache stores carts as JSON under a per-user key.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = defaultTTL
	}
	return &RedisCache{client: client, baseTTL: baseTTL}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("read cached cart: %w", err)
	}

	cart := new(domain.Cart)
	if err := json.Unmarshal(data, cart); err != nil {
		return nil, fmt.Errorf("decode cached cart: %w", err)
	}
	if cart.UserID != userID {
		return nil, fmt.Errorf("cached cart belongs to %q, not %q", cart.UserID, userID)
	}
	return cart, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	written, err := setIfNewer.Run(ctx, r.client,
		[]string{cartKey(userID)},
		payload, cart.Version, r.ttl().Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("write cached cart: %w", err)
	}
	if written == 0 {
		return fmt.Errorf("user %s version %d: %w", userID, cart.Version, ErrStaleWrite)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("drop cached cart: %w", err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	return r.baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))
}

func cartKey(userID string) string {
	return keyPrefix + userID
}
