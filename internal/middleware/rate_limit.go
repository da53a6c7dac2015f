package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/civic-stream-api/internal/utils"
)

// RateLimit limits how often one caller may hit a stream-scoped route. The
// bucket is (scope, stream, caller), so busy chats do not starve quiet ones.
// Anonymous callers share a bucket per IP.
func RateLimit(scope string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:          max,
		Expiration:   window,
		KeyGenerator: func(c *fiber.Ctx) string { return rateLimitKey(c, scope) },
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retryAfter(window))
			return utils.SendError(c, fiber.StatusTooManyRequests, "you are posting too quickly, wait a moment")
		},
	})
}

func rateLimitKey(c *fiber.Ctx, scope string) string {
	caller := UserID(c)
	if caller == "" {
		caller = "ip:" + c.IP()
	}
	parts := []string{scope}
	if stream := c.Params("streamId"); stream != "" {
		parts = append(parts, stream)
	}
	return strings.Join(append(parts, caller), ":")
}

func retryAfter(window time.Duration) string {
	seconds := int(window.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
