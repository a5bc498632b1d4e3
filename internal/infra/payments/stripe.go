package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	jsonx "nexus/internal/shared/json"
	"nexus/internal/shared/logging"
)

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
	// BackendURL overrides the Stripe API base URL.
	BackendURL string
}

// CheckoutItem describes what is being bought.
type CheckoutItem struct {
	PaymentID   string
	UserID      string
	Name        string
	AmountPence int64
	Metadata    map[string]string
}

// Checkout is a created Stripe Checkout session.
type Checkout struct {
	SessionID string
	URL       string
}

// WebhookOutcome classifies Stripe events relevant to payments.
type WebhookOutcome string

const (
	OutcomeCompleted WebhookOutcome = "completed"
	OutcomeFailed    WebhookOutcome = "failed"
	OutcomeIgnored   WebhookOutcome = "ignored"
)

// WebhookEvent is a verified Stripe event mapped to a payment.
type WebhookEvent struct {
	Type            string
	Outcome         WebhookOutcome
	PaymentID       string
	PaymentIntentID string
	Metadata        map[string]string
}

// StripeGateway creates Checkout sessions and verifies Stripe webhooks.
type StripeGateway struct {
	client *client.API
	config StripeConfig
	logger logging.Logger
}

// NewStripeGateway builds a gateway from cfg.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyGBP)
	}

	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)

	return &StripeGateway{
		client: sc,
		config: cfg,
		logger: logging.NewComponentLogger("StripeGateway"),
	}, nil
}

// CreateCheckout opens a one-off payment Checkout session for item.
func (g *StripeGateway) CreateCheckout(ctx context.Context, item CheckoutItem) (Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(g.config.SuccessURL),
		CancelURL:          stripe.String(g.config.CancelURL),
		ClientReferenceID:  stripe.String(item.PaymentID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.config.Currency),
				UnitAmount: stripe.Int64(item.AmountPence),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	params.AddMetadata("payment_id", item.PaymentID)
	params.AddMetadata("user_id", item.UserID)
	for key, value := range item.Metadata {
		params.AddMetadata(key, value)
	}

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("stripe checkout: %w", err)
	}
	g.logger.Info("Created checkout session %s for payment %s", session.ID, item.PaymentID)
	return Checkout{SessionID: session.ID, URL: session.URL}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps checkout events.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if g.config.WebhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe webhook secret not configured")
	}
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.config.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	result := WebhookEvent{Type: event.Type, Outcome: OutcomeIgnored}
	var outcome WebhookOutcome
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		outcome = OutcomeCompleted
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		outcome = OutcomeFailed
	default:
		return result, nil
	}
	if event.Data == nil {
		return result, fmt.Errorf("stripe event %s has no data", event.ID)
	}

	var session stripe.CheckoutSession
	if err := jsonx.Unmarshal(event.Data.Raw, &session); err != nil {
		return result, fmt.Errorf("decode checkout session: %w", err)
	}
	// Delayed payment methods complete later via async_payment_succeeded.
	if event.Type == "checkout.session.completed" && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return result, nil
	}

	result.Outcome = outcome
	result.Metadata = session.Metadata
	result.PaymentID = session.ClientReferenceID
	if result.PaymentID == "" {
		result.PaymentID = session.Metadata["payment_id"]
	}
	if session.PaymentIntent != nil {
		result.PaymentIntentID = session.PaymentIntent.ID
	}
	return result, nil
}
