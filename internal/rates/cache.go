package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache stores quoted rates in Redis with a TTL. A nil *Cache is a
// valid no-op cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a Redis-backed rate cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(from, to string) string {
	return fmt.Sprintf("rates:%s:%s", from, to)
}

// Get returns the cached rate for a pair; found is false on a miss.
func (c *Cache) Get(ctx context.Context, from, to string) (rate decimal.Decimal, found bool, err error) {
	if c == nil {
		return decimal.Zero, false, nil
	}

	raw, err := c.client.Get(ctx, cacheKey(from, to)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("cache get: %w", err)
	}

	rate, err = decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("cache holds bad rate %q: %w", raw, err)
	}

	return rate, true, nil
}

// Set stores the rate for a pair.
func (c *Cache) Set(ctx context.Context, from, to string, rate decimal.Decimal) error {
	if c == nil {
		return nil
	}

	if err := c.client.Set(ctx, cacheKey(from, to), rate.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}

	return nil
}
