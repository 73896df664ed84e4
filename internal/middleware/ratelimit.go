package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware is a fixed-window counter per route and caller. Authenticated
// callers are keyed by player, anonymous ones by IP. Redis failures fail open.
func RateLimitMiddleware(rdb redis.Cmdable, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := c.IP()
		if id := GetPlayerID(c); id != uuid.Nil {
			caller = id.String()
		}
		key := fmt.Sprintf("rl:%s:%s:%s", c.Route().Path, caller, window)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%d", int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
