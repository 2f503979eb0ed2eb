// Package insights caches generated LLM insight documents so the dashboard
// does not pay for a fresh generation on every view.
package insights

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	aggregateKey     = "betterphone:insights:aggregate"
	summaryKeyPrefix = "betterphone:insights:summary:"

	// DefaultTTL is the cache lifetime for both the aggregate document and
	// per-response summaries.
	DefaultTTL = 24 * time.Hour
)

// Cache stores insight documents in Redis with a TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects the insight cache. A non-positive ttl uses DefaultTTL.
func NewCache(addr, password string, ttl time.Duration) (*Cache, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("insight cache redis addr required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		ttl:    ttl,
	}, nil
}

// GetAggregate returns the cached aggregate insight document, if any.
func (c *Cache) GetAggregate(ctx context.Context) (string, bool, error) {
	return c.get(ctx, aggregateKey)
}

// SetAggregate caches the aggregate insight document.
func (c *Cache) SetAggregate(ctx context.Context, doc string) error {
	return c.client.Set(ctx, aggregateKey, doc, c.ttl).Err()
}

// GetSummary returns a cached per-response summary.
func (c *Cache) GetSummary(ctx context.Context, sessionID string) (string, bool, error) {
	return c.get(ctx, summaryKeyPrefix+sessionID)
}

// SetSummary caches a per-response summary keyed by session id.
func (c *Cache) SetSummary(ctx context.Context, sessionID, summary string) error {
	return c.client.Set(ctx, summaryKeyPrefix+sessionID, summary, c.ttl).Err()
}

func (c *Cache) get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
