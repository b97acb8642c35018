package service

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/propflow/handoff/internal/config"
)

// maxTrackedUsers bounds the per-user limiter map. Login bursts are
// short-lived, so dropping all limiter state at the bound is acceptable.
const maxTrackedUsers = 4096

const defaultBurst = 3

// userLimiter rate-limits token issuance per user ID to prevent
// token-minting abuse by a compromised session.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newUserLimiter returns nil (no limiting) when the config disables it.
func newUserLimiter(cfg config.RateLimitConfig) *userLimiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &userLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.PerMinute / 60.0),
		burst:    burst,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= maxTrackedUsers {
		l.limiters = make(map[string]*rate.Limiter)
	}

	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	return lim.Allow()
}
