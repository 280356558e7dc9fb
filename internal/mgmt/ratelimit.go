package mgmt

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/p-blackswan/codevault/lru"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

const (
	maxTrackedClients = 10000
	clientIdleTTL     = 10 * time.Minute
)

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter keyed
// by remote IP. Idle clients age out of a bounded LRU.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	burst := cfg.Burst
	if burst < 1 {
		burst = cfg.RPS
	}
	clients := lru.New[string, *rate.Limiter](maxTrackedClients,
		lru.WithTTL[string, *rate.Limiter](clientIdleTTL))

	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}

		ip := c.IP()
		limiter, ok := clients.Get(ip)
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
		}
		// Re-put to extend the idle lifetime. Concurrent first requests from one
		// client may briefly hold separate limiters.
		clients.Put(ip, limiter)

		if !limiter.Allow() {
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
