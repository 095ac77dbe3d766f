package middleware

import (
	"math"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"message-feed/backend/internal/platform/httpx"
)

// DefaultLimiterKeys bounds how many client keys keep a limiter in memory.
const DefaultLimiterKeys = 10000

// RateMetrics counts rejected requests. A nil value is allowed.
type RateMetrics interface {
	RateLimited(route string)
}

// RateLimiter is a per-key token bucket. Least recently seen keys are evicted once the table is full.
type RateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	metrics  RateMetrics
}

// NewRateLimiter allows perMinute requests per key with a burst of perMinute, tracking at most maxKeys keys.
func NewRateLimiter(perMinute, maxKeys int, metrics RateMetrics) (*RateLimiter, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultLimiterKeys
	}
	cache, err := lru.New[string, *rate.Limiter](maxKeys)
	if err != nil {
		return nil, err
	}
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		limiters: cache,
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
		metrics:  metrics,
	}, nil
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.limiter(key).Allow()
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	if l, ok := rl.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if prev, ok, _ := rl.limiters.PeekOrAdd(key, l); ok {
		return prev
	}
	return l
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	return rl.limiters.Len()
}

// ByClientIP returns middleware that limits requests per client IP. route labels the metric.
func (rl *RateLimiter) ByClientIP(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(ClientIP(r)) {
				if rl.metrics != nil {
					rl.metrics.RateLimited(route)
				}
				retry := int(math.Ceil(1.0 / float64(rl.limit)))
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
