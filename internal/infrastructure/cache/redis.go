package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/example/gym-checkout/internal/domain/cart"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the base lifetime of a cached cart
const DefaultTTL = 15 * time.Minute

// maxJitter spreads expiries so carts cached together do not expire together
const maxJitter = 5 * time.Minute

// setIfNotOlder writes the cart unless the cached entry has a later version.
var setIfNotOlder = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, cached = pcall(cjson.decode, cur)
  if ok and type(cached) == 'table' and tonumber(cached.version) and tonumber(cached.version) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisCartCache implements cart.Cache on Redis.
type RedisCartCache struct {
	client  redis.Cmdable
	baseTTL time.Duration
}

func NewRedisCartCache(client redis.Cmdable, baseTTL time.Duration) *RedisCartCache {
	if baseTTL <= 0 {
		baseTTL = DefaultTTL
	}
	return &RedisCartCache{client: client, baseTTL: baseTTL}
}

func (r *RedisCartCache) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &c, nil
}

func (r *RedisCartCache) Set(ctx context.Context, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(maxJitter)))
	err = setIfNotOlder.Run(ctx, r.client, []string{cacheKey(c.UserID)}, data, c.Version, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCartCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
