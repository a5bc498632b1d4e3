package app

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"nexus/internal/chat/ports"
	"nexus/internal/infra/llm"
	"nexus/internal/infra/observability"
	"nexus/internal/shared/logging"
)

const (
	defaultHistoryLimit = 50
	maxNameLength       = 200
	defaultChatTitle    = "New chat"
)

// Config tunes conversation behaviour.
type Config struct {
	DefaultProvider llm.Provider
	DefaultModel    string
	SystemPrompt    string
	// HistoryLimit bounds how many prior messages are sent upstream.
	HistoryLimit int
	// HistoryTokenBudget drops the oldest history beyond this many tokens.
	// Zero disables the budget.
	HistoryTokenBudget int
	MaxTokens          int
}

// Service owns folders, chats, messages, subtasks and BYOK keys.
type Service struct {
	store   ports.Store
	ledger  ports.Ledger
	clients ports.ClientFactory
	sealer  ports.KeySealer
	metrics *observability.MetricsCollector
	config  Config
	logger  logging.Logger
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithKeySealer enables BYOK key storage.
func WithKeySealer(sealer ports.KeySealer) Option {
	return func(s *Service) { s.sealer = sealer }
}

// WithMetrics wires the debit failure counter.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the chat service.
func NewService(store ports.Store, ledger ports.Ledger, clients ports.ClientFactory, cfg Config, opts ...Option) *Service {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = llm.ProviderOpenAI
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	s := &Service{
		store:   store,
		ledger:  ledger,
		clients: clients,
		config:  cfg,
		logger:  logging.NewComponentLogger("Chat"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// validID filters ids that can never match a row.
func validID(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if _, err := uuid.Parse(value); err != nil {
		return "", false
	}
	return value, true
}

func (s *Service) defaultModel(provider llm.Provider) string {
	if provider == s.config.DefaultProvider && strings.TrimSpace(s.config.DefaultModel) != "" {
		return strings.TrimSpace(s.config.DefaultModel)
	}
	return llm.DefaultModel(provider)
}
