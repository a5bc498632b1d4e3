package http

import (
	"context"
	"time"

	authapp "nexus/internal/auth/app"
	billingapp "nexus/internal/billing/app"
	chatapp "nexus/internal/chat/app"
	githubapp "nexus/internal/github/app"
	"nexus/internal/infra/observability"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// DegradedReporter lists optional components that failed to start.
type DegradedReporter interface {
	Snapshot() map[string]string
}

// RouterDeps holds all service dependencies needed to construct the HTTP router.
type RouterDeps struct {
	Auth    *authapp.Service
	Billing *billingapp.Service
	Chat    *chatapp.Service
	GitHub  *githubapp.Service
	Obs     *observability.Observability
	Health  HealthChecker
	// Degraded is optional; when set /health includes its snapshot.
	Degraded DegradedReporter
}

// RouterConfig holds configuration values for the HTTP router.
type RouterConfig struct {
	Environment            string
	AllowedOrigins         []string
	SecureCookies          bool
	RateLimit              RateLimitConfig
	RequestTimeout         time.Duration
	GitHubCallbackRedirect string
}
