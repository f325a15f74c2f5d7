package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/garagebook/billing-api/pkg/httputil"
	"github.com/garagebook/billing-api/pkg/identity"
	"github.com/garagebook/billing-api/pkg/observability"
)

const rateLimitKeyPrefix = "ratelimit:checkout:"

// RateLimiter enforces a fixed-window per-user request limit backed by
// Redis, so the limit holds across replicas. Redis failures fail open;
// an unavailable limiter must not take checkout down with it.
type RateLimiter struct {
	client  *redis.Client
	limit   int
	window  time.Duration
	metrics *observability.Metrics
}

// NewRateLimiter creates a rate limiter. Metrics may be nil.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, metrics *observability.Metrics) *RateLimiter {
	return &RateLimiter{
		client:  client,
		limit:   limit,
		window:  window,
		metrics: metrics,
	}
}

// Middleware limits requests per authenticated user. It must run after
// AuthMiddleware so the identity is on the context; unauthenticated
// requests pass through untouched and fail auth downstream.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := identity.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.increment(r, caller.UserID)
		if err != nil {
			logger := observability.FromContext(r.Context())
			logger.WithError(err).Warn("Rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(count) > rl.limit {
			if rl.metrics != nil {
				rl.metrics.RateLimitRejectionsTotal.WithLabelValues("user").Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			httputil.WriteTooManyRequests(w, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) increment(r *http.Request, userID string) (int64, error) {
	ctx := r.Context()
	key := fmt.Sprintf("%s%s", rateLimitKeyPrefix, userID)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// The first hit anchors the window.
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}
