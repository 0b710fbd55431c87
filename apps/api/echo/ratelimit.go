package echoapi

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

type (
	// rateLimiter limits the generation endpoints per user.
	rateLimiter struct {
		mu       sync.Mutex
		limiters map[string]*userLimiter
		rate     rate.Limit
		burst    int
		swept    time.Time
		now      func() time.Time
	}

	userLimiter struct {
		*rate.Limiter
		lastSeen time.Time
	}
)

func newRateLimiter(perMinute, burst int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &rateLimiter{
		limiters: make(map[string]*userLimiter),
		rate:     rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.swept) > limiterIdleTTL {
		for k, l := range rl.limiters {
			if now.Sub(l.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.swept = now
	}
	l, ok := rl.limiters[key]
	if !ok {
		l = &userLimiter{Limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = l
	}
	l.lastSeen = now
	return l.AllowN(now, 1)
}

// middleware must run after authMiddleware; anonymous requests are keyed by IP.
func (rl *rateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		key := ctx.RealIP()
		if usr, err := getContextUser(ctx); err == nil {
			key = usr.ID
		}
		if !rl.allow(key) {
			return errTooManyRequests
		}
		return next(ctx)
	}
}
