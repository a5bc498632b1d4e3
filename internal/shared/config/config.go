package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort               = "8080"
	DefaultDatabaseMaxConns   = 20
	DefaultTokenTTL           = 7 * 24 * time.Hour
	DefaultProvider           = "openai"
	DefaultModel              = "gpt-4o-mini"
	DefaultRateLimitRPM       = 600
	DefaultRateLimitBurst     = 60
	DefaultUserLLMRPS         = 1.0
	DefaultUserLLMBurst       = 5
	DefaultSignupBonusCredits = 100
	DefaultGitHubAPIURL       = "https://api.github.com"
	DefaultAppBaseURL         = "http://localhost:3000"
	DefaultRequestTimeout     = 60 * time.Second
	DefaultMaintenanceSpec    = "@every 15m"
	DefaultHistoryTokenBudget = 24000
)

// Config is the resolved server configuration.
type Config struct {
	Port        string
	Environment string
	// ProxyMode is the outbound proxy policy: auto, strict or direct.
	ProxyMode      string
	RequestTimeout time.Duration
	// MaintenanceSchedule is a cron spec for session purge and cycle rollover.
	MaintenanceSchedule string

	Database      DatabaseConfig
	Auth          AuthConfig
	LLM           LLMConfig
	GitHub        GitHubConfig
	Payments      PaymentsConfig
	RateLimit     RateLimitConfig
	Security      SecurityConfig
	CreditRates   string
	Observability string
	Signup        SignupConfig
}

// DatabaseConfig captures the Postgres pool settings.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// AuthConfig captures token issuance settings.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	SecureCookies bool
}

// LLMConfig captures platform provider keys and defaults.
type LLMConfig struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	DefaultProvider  string
	DefaultModel     string
	UserRPS          float64
	UserBurst        int
	// HistoryTokenBudget caps the prompt history sent upstream; 0 disables it.
	HistoryTokenBudget int
}

// GitHubConfig captures OAuth app credentials.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	APIURL       string
	// CallbackRedirect is where the browser lands after the OAuth callback.
	CallbackRedirect string
}

// Enabled reports whether the OAuth app is configured.
func (c GitHubConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// PaymentsConfig captures webhook secrets and the Stripe account.
type PaymentsConfig struct {
	WebhookSecret       string
	StripeSecretKey     string
	StripeWebhookSecret string
	AppBaseURL          string
}

// RateLimitConfig captures HTTP rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// SecurityConfig captures CORS and at-rest encryption.
type SecurityConfig struct {
	AllowedOrigins []string
	EncryptionKey  string
}

// SignupConfig captures the credits granted on registration.
type SignupConfig struct {
	BonusCredits int64
}

// Load resolves configuration from lookup, applying defaults.
func Load(lookup EnvLookup) (Config, error) {
	if lookup == nil {
		lookup = DefaultEnvLookupWithAliases()
	}
	r := reader{lookup: lookup}

	cfg := Config{
		Port:                r.str("PORT", DefaultPort),
		Environment:         strings.ToLower(r.str("NEXUS_ENV", "development")),
		ProxyMode:           strings.ToLower(r.str("HTTP_PROXY_MODE", "auto")),
		RequestTimeout:      time.Duration(r.integer("REQUEST_TIMEOUT_SECONDS", int(DefaultRequestTimeout/time.Second))) * time.Second,
		MaintenanceSchedule: r.str("MAINTENANCE_SCHEDULE", DefaultMaintenanceSpec),
		Database: DatabaseConfig{
			URL:      r.str("DATABASE_URL", ""),
			MaxConns: int32(r.integer("DATABASE_MAX_CONNS", DefaultDatabaseMaxConns)),
		},
		Auth: AuthConfig{
			JWTSecret:     r.str("AUTH_JWT_SECRET", ""),
			TokenTTL:      time.Duration(r.integer("AUTH_TOKEN_TTL_HOURS", int(DefaultTokenTTL/time.Hour))) * time.Hour,
			SecureCookies: r.boolean("AUTH_SECURE_COOKIES", false),
		},
		LLM: LLMConfig{
			OpenAIAPIKey:       r.str("OPENAI_API_KEY", ""),
			OpenAIBaseURL:      r.str("OPENAI_BASE_URL", ""),
			AnthropicAPIKey:    r.str("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL:   r.str("ANTHROPIC_BASE_URL", ""),
			DefaultProvider:    strings.ToLower(r.str("DEFAULT_PROVIDER", DefaultProvider)),
			DefaultModel:       r.str("DEFAULT_MODEL", DefaultModel),
			UserRPS:            r.float("USER_LLM_RPS", DefaultUserLLMRPS),
			UserBurst:          r.integer("USER_LLM_BURST", DefaultUserLLMBurst),
			HistoryTokenBudget: r.integer("CHAT_HISTORY_TOKEN_BUDGET", DefaultHistoryTokenBudget),
		},
		GitHub: GitHubConfig{
			ClientID:         r.str("GITHUB_CLIENT_ID", ""),
			ClientSecret:     r.str("GITHUB_CLIENT_SECRET", ""),
			RedirectURL:      r.str("GITHUB_REDIRECT_URL", ""),
			APIURL:           strings.TrimRight(r.str("GITHUB_API_URL", DefaultGitHubAPIURL), "/"),
			CallbackRedirect: r.str("GITHUB_CALLBACK_REDIRECT", ""),
		},
		Payments: PaymentsConfig{
			WebhookSecret:       r.str("PAYMENT_WEBHOOK_SECRET", ""),
			StripeSecretKey:     r.str("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: r.str("STRIPE_WEBHOOK_SECRET", ""),
			AppBaseURL:          strings.TrimRight(r.str("APP_BASE_URL", DefaultAppBaseURL), "/"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: r.integer("RATE_LIMIT_RPM", DefaultRateLimitRPM),
			Burst:             r.integer("RATE_LIMIT_BURST", DefaultRateLimitBurst),
		},
		Security: SecurityConfig{
			AllowedOrigins: r.list("CORS_ALLOWED_ORIGINS"),
			EncryptionKey:  r.str("ENCRYPTION_KEY", ""),
		},
		CreditRates:   r.str("CREDIT_RATES_FILE", ""),
		Observability: r.str("OBSERVABILITY_CONFIG", ""),
		Signup: SignupConfig{
			BonusCredits: int64(r.integer("SIGNUP_BONUS_CREDITS", DefaultSignupBonusCredits)),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, nil
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// ValidationReport summarizes blocking errors and warnings.
type ValidationReport struct {
	Errors   []string
	Warnings []string
}

// HasErrors reports whether the report contains blocking errors.
func (r ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// Err joins blocking errors into one error value.
func (r ValidationReport) Err() error {
	if !r.HasErrors() {
		return nil
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(r.Errors, "; "))
}

// Validate checks required settings.
func Validate(cfg Config) ValidationReport {
	var report ValidationReport
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		report.Errors = append(report.Errors, "AUTH_JWT_SECRET is required")
	}
	if cfg.Auth.TokenTTL <= 0 {
		report.Errors = append(report.Errors, "AUTH_TOKEN_TTL_HOURS must be positive")
	}
	if cfg.Database.MaxConns <= 0 {
		report.Errors = append(report.Errors, "DATABASE_MAX_CONNS must be positive")
	}
	if strings.TrimSpace(cfg.Security.EncryptionKey) == "" {
		report.Warnings = append(report.Warnings, "ENCRYPTION_KEY not set; deriving the sealing key from AUTH_JWT_SECRET")
	}
	if cfg.GitHub.Enabled() && cfg.GitHub.RedirectURL == "" {
		report.Warnings = append(report.Warnings, "GITHUB_REDIRECT_URL not set; GitHub will use the OAuth app default")
	}
	if cfg.Payments.WebhookSecret == "" {
		report.Warnings = append(report.Warnings, "PAYMENT_WEBHOOK_SECRET not set; /api/webhooks/payments rejects every request")
	}
	if cfg.IsProduction() && !cfg.Auth.SecureCookies {
		report.Warnings = append(report.Warnings, "AUTH_SECURE_COOKIES disabled in production")
	}
	return report
}

type reader struct {
	lookup EnvLookup
	err    error
}

func (r *reader) str(key, fallback string) string {
	if value, ok := r.lookup(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func (r *reader) integer(key string, fallback int) int {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s: expected integer, got %q", key, raw))
		return fallback
	}
	return value
}

func (r *reader) float(key string, fallback float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(fmt.Errorf("%s: expected number, got %q", key, raw))
		return fallback
	}
	return value
}

func (r *reader) boolean(key string, fallback bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(fmt.Errorf("%s: expected boolean, got %q", key, raw))
		return fallback
	}
	return value
}

func (r *reader) list(key string) []string {
	raw := r.str(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
