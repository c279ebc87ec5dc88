package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/community-site/internal/metrics"
	"go.uber.org/zap"
)

// RateLimiter counts requests per key in fixed Redis-backed windows so limits
// hold across instances
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRateLimiter creates a limiter allowing limit requests per window
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{
		redis:  client,
		limit:  limit,
		window: window,
		prefix: prefix,
	}
}

// Allow records one request for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}

	remaining := ttl.Val()
	// first hit in the window, or a key that lost its expiry
	if incr.Val() == 1 || remaining < 0 {
		if err := rl.redis.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
		remaining = rl.window
	}

	return incr.Val() <= int64(rl.limit), remaining, nil
}

// Reset clears the counter for key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}

// RateLimit limits requests per client IP for scope. A nil limiter disables
// limiting, and Redis errors let the request through.
func RateLimit(rl *RateLimiter, scope string, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil {
			return c.Next()
		}

		allowed, retryAfter, err := rl.Allow(c.UserContext(), scope+":"+c.IP())
		if err != nil {
			if logger != nil {
				logger.Sugar().Warnf("Rate limiter unavailable, allowing request: %v", err)
			}
			return c.Next()
		}

		if !allowed {
			metrics.RecordRejection(string(KindRateLimited))
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			return writeError(c, nil, ErrRateLimited)
		}

		return c.Next()
	}
}
