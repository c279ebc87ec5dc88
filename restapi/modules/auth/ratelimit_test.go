package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, limit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateLimiter(client, limit, time.Minute, "test"), mr
}

func TestRateLimiterAllow(t *testing.T) {
	rl, mr := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}

	allowed, retryAfter, err := rl.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)

	allowed, _, err = rl.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are counted separately")

	mr.FastForward(time.Minute + time.Second)
	allowed, _, err = rl.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed, "window expired")
}

func TestRateLimiterReset(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	ctx := context.Background()

	allowed, _, _ := rl.Allow(ctx, "k")
	assert.True(t, allowed)
	allowed, _, _ = rl.Allow(ctx, "k")
	assert.False(t, allowed)

	require.NoError(t, rl.Reset(ctx, "k"))
	allowed, _, _ = rl.Allow(ctx, "k")
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 2)

	app := fiber.New()
	app.Post("/login", RateLimit(rl, "login", zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/login", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/login", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	rl, mr := newTestLimiter(t, 1)
	mr.Close()

	app := fiber.New()
	app.Get("/", RateLimit(rl, "x", zap.NewNop()), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestRateLimitNilLimiter(t *testing.T) {
	app := fiber.New()
	app.Get("/", RateLimit(nil, "x", nil), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
