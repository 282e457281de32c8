package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/reelcraft/mediapipe/pkg/response"
)

// RateLimiter counts requests per user in fixed Redis windows.
type RateLimiter struct {
	redis *redis.Client
}

// NewRateLimiter returns a limiter; a nil client disables limiting.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// hit increments the window counter and returns the new count and the
// remaining window.
func (rl *RateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return incr.Val(), ttl.Val(), nil
}

// Limit allows maxRequests per user within window.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		userID := GetUserID(c)
		if userID == "" {
			return c.Next() // Skip rate limiting if no user (auth middleware should catch this)
		}

		count, ttl, err := rl.hit(c.UserContext(), fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID), window)
		if err != nil {
			// Fail open when Redis is unavailable
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			c.Set("X-RateLimit-Remaining", "0")
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))

		return c.Next()
	}
}

// TaskLimit returns a rate limiter for task creation endpoints
func (rl *RateLimiter) TaskLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("task", maxPerHour, time.Hour)
}

// RenderLimit returns a rate limiter for render endpoints
func (rl *RateLimiter) RenderLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("render", maxPerHour, time.Hour)
}
