package app

import (
	"time"

	"nexus/internal/billing/domain"
	"nexus/internal/billing/ports"
	"nexus/internal/infra/observability"
	"nexus/internal/shared/logging"
)

// Config tunes the billing service.
type Config struct {
	// SignupBonusCredits is granted to every new account.
	SignupBonusCredits int64
	Packages           []domain.CreditPackage
}

// Service owns the credit ledger, subscriptions and payments.
type Service struct {
	ledger        ports.LedgerStore
	subscriptions ports.SubscriptionStore
	payments      ports.PaymentStore
	rates         *domain.RateTable
	gateway       ports.CheckoutGateway
	verifier      ports.SignatureVerifier
	metrics       *observability.MetricsCollector
	tracer        *observability.TracerProvider
	config        Config
	logger        logging.Logger
	now           func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithCheckoutGateway enables hosted checkout and provider webhooks.
func WithCheckoutGateway(gateway ports.CheckoutGateway) Option {
	return func(s *Service) { s.gateway = gateway }
}

// WithSignatureVerifier enables the generic payment webhook.
func WithSignatureVerifier(verifier ports.SignatureVerifier) Option {
	return func(s *Service) { s.verifier = verifier }
}

// WithObservability wires metrics and tracing.
func WithObservability(metrics *observability.MetricsCollector, tracer *observability.TracerProvider) Option {
	return func(s *Service) {
		s.metrics = metrics
		s.tracer = tracer
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the billing service.
func NewService(ledger ports.LedgerStore, subscriptions ports.SubscriptionStore, payments ports.PaymentStore, rates *domain.RateTable, cfg Config, opts ...Option) *Service {
	if rates == nil {
		rates = domain.DefaultRateTable()
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = domain.DefaultPackages()
	}
	if cfg.SignupBonusCredits < 0 {
		cfg.SignupBonusCredits = 0
	}
	s := &Service{
		ledger:        ledger,
		subscriptions: subscriptions,
		payments:      payments,
		rates:         rates,
		config:        cfg,
		logger:        logging.NewComponentLogger("Billing"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rates exposes the rate table.
func (s *Service) Rates() *domain.RateTable {
	return s.rates
}
