package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/imagery/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// withRateLimit throttles mutating /v1 calls per user and route. A limiter
// error lets the request through.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		route := routeLabel(r.URL.Path)
		subject := s.userID(r) + ":" + route
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.metrics.rateLimitErrors.Inc()
			s.logger.Printf("rate limiter unavailable subject=%s err=%v", subject, err)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w.Header(), decision)
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	})
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	if d.Limit > 0 {
		h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	}
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(d.RetryAfter.Seconds())))))
	}
}
