package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter caps how many successful generations a session may run
// within a rolling window.
type RedisLimiter struct {
	client *redis.Client
	limit  int // 0 disables the quota
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func usageKey(sessionID string) string {
	return "usage:generations:" + sessionID
}

func (r *RedisLimiter) CheckLimit(ctx context.Context, sessionID string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	val, err := r.client.Get(ctx, usageKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil // No usage yet
	}
	if err != nil {
		return false, err
	}
	usage, _ := strconv.Atoi(val)
	return usage < r.limit, nil
}

// Increment records one generation. The window starts with the first one.
func (r *RedisLimiter) Increment(ctx context.Context, sessionID string) error {
	if r.limit <= 0 {
		return nil
	}
	key := usageKey(sessionID)
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 && r.window > 0 {
		return r.client.Expire(ctx, key, r.window).Err()
	}
	return nil
}
