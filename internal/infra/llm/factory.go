package llm

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"nexus/internal/infra/observability"
	sharederrors "nexus/internal/shared/errors"
)

const (
	defaultLLMCacheSize = 64
	defaultLLMCacheTTL  = 30 * time.Minute
)

// FactoryConfig carries platform credentials and wrapper settings.
type FactoryConfig struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	Timeout          time.Duration
	HTTPClient       *http.Client

	CacheSize int
	CacheTTL  time.Duration

	DisableRetry bool
	Retry        sharederrors.RetryConfig

	UserRPS   float64
	UserBurst int

	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider
}

// Factory builds provider clients by static dispatch on Provider.
type Factory struct {
	config  FactoryConfig
	limiter *UserRateLimiter

	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]
}

type cacheEntry struct {
	client    Client
	expiresAt time.Time
}

// NewFactory constructs a factory.
func NewFactory(config FactoryConfig) *Factory {
	if config.CacheSize == 0 {
		config.CacheSize = defaultLLMCacheSize
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaultLLMCacheTTL
	}
	if config.Retry == (sharederrors.RetryConfig{}) {
		config.Retry = sharederrors.DefaultRetryConfig()
	}
	return &Factory{
		config:  config,
		limiter: NewUserRateLimiter(rate.Limit(config.UserRPS), config.UserBurst),
		cache:   newLLMCache(config.CacheSize),
	}
}

func newLLMCache(size int) *lru.Cache[string, cacheEntry] {
	if size <= 0 {
		return nil
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil
	}
	return cache
}

// Configured reports whether a platform key exists for provider.
func (f *Factory) Configured(provider Provider) bool {
	return f.platformKey(provider) != ""
}

func (f *Factory) platformKey(provider Provider) string {
	switch provider {
	case ProviderOpenAI:
		return strings.TrimSpace(f.config.OpenAIAPIKey)
	case ProviderAnthropic:
		return strings.TrimSpace(f.config.AnthropicAPIKey)
	}
	return ""
}

// Client returns a client for provider and model. An empty apiKey selects the
// platform key, and those clients are cached; user-supplied keys never are.
func (f *Factory) Client(provider Provider, model, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI, ProviderAnthropic:
	case ProviderGoogle:
		return nil, fmt.Errorf("%w: %s", ErrProviderNotImplemented, provider)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel(provider)
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		return f.build(provider, model, apiKey)
	}
	apiKey = f.platformKey(provider)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	cacheKey := string(provider) + ":" + model
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cache != nil {
		if entry, ok := f.cache.Get(cacheKey); ok {
			if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
				return entry.client, nil
			}
			f.cache.Remove(cacheKey)
		}
	}
	client, err := f.build(provider, model, apiKey)
	if err != nil {
		return nil, err
	}
	if f.cache != nil {
		var expiresAt time.Time
		if f.config.CacheTTL > 0 {
			expiresAt = now.Add(f.config.CacheTTL)
		}
		f.cache.Add(cacheKey, cacheEntry{client: client, expiresAt: expiresAt})
	}
	return client, nil
}

func (f *Factory) build(provider Provider, model, apiKey string) (Client, error) {
	cfg := Config{APIKey: apiKey, Timeout: f.config.Timeout, HTTPClient: f.config.HTTPClient}
	var (
		client Client
		err    error
	)
	switch provider {
	case ProviderOpenAI:
		cfg.BaseURL = f.config.OpenAIBaseURL
		client, err = NewOpenAIClient(model, cfg)
	case ProviderAnthropic:
		cfg.BaseURL = f.config.AnthropicBaseURL
		client, err = NewAnthropicClient(model, cfg)
	}
	if err != nil {
		return nil, err
	}
	if !f.config.DisableRetry {
		client = WrapWithRetry(client, f.config.Retry)
	}
	client = WrapWithObservability(client, provider, f.config.Metrics, f.config.Tracer)
	return WrapWithUserRateLimit(client, f.limiter), nil
}
