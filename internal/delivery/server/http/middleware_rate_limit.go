package http

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultRateLimitClients = 10000
	defaultRateLimitIdleTTL = 15 * time.Minute
)

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// MaxClients caps the number of tracked addresses; the least recently
	// seen are evicted first.
	MaxClients int
	IdleTTL    time.Duration
}

type clientLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newClientLimiters(cfg RateLimitConfig) *clientLimiters {
	size := cfg.MaxClients
	if size <= 0 {
		size = defaultRateLimitClients
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = defaultRateLimitIdleTTL
	}
	return &clientLimiters{
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:    cfg.Burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
	}
}

// reserve takes a token for key. When none is available it returns how long
// the client should wait.
func (c *clientLimiters) reserve(key string, now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	limiter, ok := c.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(c.limit, c.burst)
	}
	// Re-adding refreshes the idle expiry.
	c.limiters.Add(key, limiter)
	c.mu.Unlock()

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Minute, false
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// RateLimitMiddleware applies a token bucket per client address. Health and
// metrics probes are exempt.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerMinute <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := newClientLimiters(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			if wait, ok := limiters.reserve(rateLimitKey(r), time.Now()); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if ip := clientIP(r); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}
