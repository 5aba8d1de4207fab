package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter is a per-process token bucket keyed by subject. It serves a
// single API replica or runs without Redis.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func NewLocalLimiter(capacity int, window time.Duration) (*LocalLimiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(capacity) / window.Seconds()),
		burst:    capacity,
		now:      time.Now,
	}, nil
}

func (l *LocalLimiter) Allow(_ context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	l.mu.Lock()
	lim, ok := l.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[subject] = lim
	}
	l.mu.Unlock()

	now := l.now()
	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, Limit: int64(l.burst), RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Limit: int64(l.burst), Remaining: int64(lim.TokensAt(now))}, nil
}
