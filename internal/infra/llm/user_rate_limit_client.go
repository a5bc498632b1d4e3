package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	id "nexus/internal/shared/utils/id"
)

const (
	userLimiterCacheSize = 10000
	userLimiterTTL       = 30 * time.Minute
)

// UserRateLimiter hands out one token bucket per user id.
type UserRateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *lru.LRU[string, *rate.Limiter]
}

// NewUserRateLimiter returns nil when limit is not positive.
func NewUserRateLimiter(limit rate.Limit, burst int) *UserRateLimiter {
	if limit <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &UserRateLimiter{
		limit:   limit,
		burst:   burst,
		buckets: lru.NewLRU[string, *rate.Limiter](userLimiterCacheSize, nil, userLimiterTTL),
	}
}

// Allow consumes a token for the user on ctx.
func (l *UserRateLimiter) Allow(ctx context.Context) error {
	if l == nil {
		return nil
	}
	key := id.UserIDFromContext(ctx)
	if key == "" {
		key = "anonymous"
	}
	l.mu.Lock()
	limiter, ok := l.buckets.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, limiter)
	}
	l.mu.Unlock()
	if limiter.Allow() {
		return nil
	}
	return fmt.Errorf("%w for user %s", ErrRateLimited, key)
}

// userRateLimitedClient applies per-user rate limiting around LLM calls.
type userRateLimitedClient struct {
	base    Client
	limiter *UserRateLimiter
}

// WrapWithUserRateLimit wraps client with limiter; a nil limiter returns client.
func WrapWithUserRateLimit(client Client, limiter *UserRateLimiter) Client {
	if limiter == nil {
		return client
	}
	return &userRateLimitedClient{base: client, limiter: limiter}
}

func (c *userRateLimitedClient) Model() string {
	return c.base.Model()
}

func (c *userRateLimitedClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.Allow(ctx); err != nil {
		return Response{}, err
	}
	return c.base.Complete(ctx, req)
}

func (c *userRateLimitedClient) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Response, error) {
	if err := c.limiter.Allow(ctx); err != nil {
		return Response{}, err
	}
	return c.base.Stream(ctx, req, onChunk)
}
