package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter implements fixed-window rate limiting backed by Redis.
// It guards link creation and mutation endpoints; resolution is never
// rate limited.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow reports whether another request for action is permitted for
// clientKey within the current window. The counter and its expiry are
// set atomically so concurrent requests cannot strand a key without TTL.
func (l *RateLimiter) Allow(ctx context.Context, action, clientKey string) (bool, error) {
	const op = "database.redis.RateLimiter.Allow"

	key := fmt.Sprintf("ratelimit:%s:%s", action, clientKey)

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%s: failed to check rate limit: %w", op, err)
	}

	return count.Val() <= l.limit, nil
}
