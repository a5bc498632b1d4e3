package bootstrap

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	authadapters "nexus/internal/auth/adapters"
	authapp "nexus/internal/auth/app"
	authports "nexus/internal/auth/ports"
	billingadapters "nexus/internal/billing/adapters"
	billingapp "nexus/internal/billing/app"
	billingdomain "nexus/internal/billing/domain"
	billingports "nexus/internal/billing/ports"
	chatadapters "nexus/internal/chat/adapters"
	chatapp "nexus/internal/chat/app"
	chatports "nexus/internal/chat/ports"
	githubadapters "nexus/internal/github/adapters"
	githubapp "nexus/internal/github/app"
	githubports "nexus/internal/github/ports"
	"nexus/internal/infra/auth/crypto"
	githubapi "nexus/internal/infra/github"
	"nexus/internal/infra/httpclient"
	"nexus/internal/infra/llm"
	"nexus/internal/infra/observability"
	"nexus/internal/infra/payments"
	runtimeconfig "nexus/internal/shared/config"
	"nexus/internal/shared/logging"
)

const tokenIssuer = "nexus"

// Container holds the application services.
type Container struct {
	Auth    *authapp.Service
	Billing *billingapp.Service
	Chat    *chatapp.Service
	GitHub  *githubapp.Service
	LLM     *llm.Factory
}

type stores struct {
	users    authports.UserRepository
	sessions authports.SessionRepository
	states   authports.StateStore
	billing  interface {
		billingports.LedgerStore
		billingports.SubscriptionStore
		billingports.PaymentStore
	}
	chat   chatports.Store
	github githubports.Store
}

// BuildContainer wires every service from cfg. A nil pool selects the
// in-memory adapters.
func BuildContainer(cfg runtimeconfig.Config, pool *pgxpool.Pool, obs *observability.Observability, logger logging.Logger) (*Container, error) {
	logger = logging.OrNop(logger)
	if obs == nil {
		obs = observability.NewWithConfig(observability.DefaultConfig())
	}

	st := newStores(pool)

	sealer, err := crypto.NewSealer(sealerSecret(cfg))
	if err != nil {
		return nil, fmt.Errorf("init sealer: %w", err)
	}

	auth := authapp.NewService(st.users, st.sessions, st.states,
		authadapters.NewJWTTokenManager(cfg.Auth.JWTSecret, tokenIssuer),
		crypto.NewPasswordHasher(crypto.DefaultParams),
		authapp.Config{TokenTTL: cfg.Auth.TokenTTL, SecureCookies: cfg.Auth.SecureCookies},
	)

	rates, err := billingdomain.LoadRateTable(cfg.CreditRates)
	if err != nil {
		return nil, fmt.Errorf("load credit rates: %w", err)
	}

	httpClient := httpclient.New(httpclient.Options{
		ProxyMode: httpclient.ParseProxyMode(cfg.ProxyMode),
		Logger:    logger,
	})

	billingOpts := []billingapp.Option{billingapp.WithObservability(obs.Metrics, obs.Tracer)}
	if secret := strings.TrimSpace(cfg.Payments.WebhookSecret); secret != "" {
		billingOpts = append(billingOpts, billingapp.WithSignatureVerifier(billingadapters.NewHMACWebhookVerifier(secret)))
	}
	if strings.TrimSpace(cfg.Payments.StripeSecretKey) != "" {
		gateway, err := payments.NewStripeGateway(payments.StripeConfig{
			SecretKey:     cfg.Payments.StripeSecretKey,
			WebhookSecret: cfg.Payments.StripeWebhookSecret,
			SuccessURL:    cfg.Payments.AppBaseURL + "/billing?status=success",
			CancelURL:     cfg.Payments.AppBaseURL + "/billing?status=cancelled",
		})
		if err != nil {
			return nil, fmt.Errorf("init stripe: %w", err)
		}
		billingOpts = append(billingOpts, billingapp.WithCheckoutGateway(billingadapters.NewStripeCheckout(gateway)))
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; credit purchases use the manual provider")
	}
	billing := billingapp.NewService(st.billing, st.billing, st.billing, rates, billingapp.Config{
		SignupBonusCredits: cfg.Signup.BonusCredits,
		Packages:           billingdomain.DefaultPackages(),
	}, billingOpts...)
	auth.OnRegistered(billing)

	factory := llm.NewFactory(llm.FactoryConfig{
		OpenAIAPIKey:     cfg.LLM.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.LLM.OpenAIBaseURL,
		AnthropicAPIKey:  cfg.LLM.AnthropicAPIKey,
		AnthropicBaseURL: cfg.LLM.AnthropicBaseURL,
		HTTPClient:       httpClient,
		UserRPS:          cfg.LLM.UserRPS,
		UserBurst:        cfg.LLM.UserBurst,
		Metrics:          obs.Metrics,
		Tracer:           obs.Tracer,
	})
	provider, err := llm.ParseProvider(cfg.LLM.DefaultProvider)
	if err != nil {
		return nil, err
	}
	chat := chatapp.NewService(st.chat, billing, factory, chatapp.Config{
		DefaultProvider:    provider,
		DefaultModel:       cfg.LLM.DefaultModel,
		HistoryTokenBudget: cfg.LLM.HistoryTokenBudget,
	}, chatapp.WithKeySealer(sealer), chatapp.WithMetrics(obs.Metrics))

	githubClient := githubapi.NewClient(githubapi.Config{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		RedirectURL:  cfg.GitHub.RedirectURL,
		APIURL:       cfg.GitHub.APIURL,
		HTTPClient:   httpClient,
		Tracer:       obs.Tracer,
	})
	if !githubClient.Configured() {
		logger.Warn("GitHub OAuth not configured; connector endpoints will return 503")
	}
	github := githubapp.NewService(st.github, githubClient, auth, sealer, githubapp.Config{})

	return &Container{
		Auth:    auth,
		Billing: billing,
		Chat:    chat,
		GitHub:  github,
		LLM:     factory,
	}, nil
}

func newStores(pool *pgxpool.Pool) stores {
	if pool == nil {
		users, sessions, states := authadapters.NewMemoryStores()
		return stores{
			users:    users,
			sessions: sessions,
			states:   states,
			billing:  billingadapters.NewMemoryStore(),
			chat:     chatadapters.NewMemoryStore(),
			github:   githubadapters.NewMemoryStore(),
		}
	}
	users, sessions, states := authadapters.NewPostgresStores(pool)
	return stores{
		users:    users,
		sessions: sessions,
		states:   states,
		billing:  billingadapters.NewPostgresStore(pool),
		chat:     chatadapters.NewPostgresStore(pool),
		github:   githubadapters.NewPostgresStore(pool),
	}
}
