package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFormat is the Redis key of one client's counter
const RateLimitKeyFormat = "ratelimit:%s:%s"

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a rate limiting middleware keyed by user, or by IP when
// auth is disabled. Without Redis every request passes.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || rl.redis == nil {
			return c.Next()
		}

		client := GetUserID(c)
		if client == "" {
			client = c.IP()
		}

		key := fmt.Sprintf(RateLimitKeyFormat, keyPrefix, client)
		ctx := context.Background()

		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			// Redis failures never block the control surface
			log.Printf("[server] rate limit check failed: %v", err)
			return c.Next()
		}

		if count == 1 {
			rl.redis.Expire(ctx, key, window)
		}

		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// StartLimit returns the limiter for starting conversions
func (rl *RateLimiter) StartLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("start", maxPerHour, time.Hour)
}
