package store

import (
	"context"
	"encoding/json"
	"errors"
	"itinerary-core/internal/observability"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache is a ResponseCache shared across processes. Expiry is delegated
// to Redis; a zero TTL stores the value without expiry.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

// Get treats Redis failures as misses so a cache outage only costs latency.
func (c *RedisCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		observability.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	observability.CacheRequests.WithLabelValues("hit").Inc()
	return json.RawMessage(val), true
}

func (c *RedisCache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) {
	if err := c.client.Set(ctx, key, []byte(value), ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
