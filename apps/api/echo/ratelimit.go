package echoapi

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = time.Hour

type (
	// ipRateLimiter throttles requests per client IP.
	ipRateLimiter struct {
		mu          sync.Mutex
		limiters    map[string]*limiterEntry
		rate        rate.Limit
		burst       int
		lastCleanup time.Time
	}

	limiterEntry struct {
		limiter    *rate.Limiter
		lastAccess time.Time
	}
)

// newIPRateLimiter allows perMinute requests per minute and per IP, with bursts of burst requests.
// A non positive perMinute disables the limit.
func newIPRateLimiter(perMinute float64, burst int) *ipRateLimiter {
	r := rate.Inf
	if perMinute > 0 {
		r = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters:    make(map[string]*limiterEntry),
		rate:        r,
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	now := time.Now()

	rl.mu.Lock()
	if now.Sub(rl.lastCleanup) > limiterIdleTTL {
		for k, entry := range rl.limiters {
			if now.Sub(entry.lastAccess) > limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastCleanup = now
	}
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = now
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

func (rl *ipRateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if !rl.allow(ctx.RealIP()) {
			return errTooManyRequests
		}
		return next(ctx)
	}
}
