package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"nexus/internal/billing/domain"
	"nexus/internal/billing/ports"
	"nexus/internal/infra/payments"
)

// StripeCheckout adapts the Stripe gateway to ports.CheckoutGateway.
type StripeCheckout struct {
	gateway *payments.StripeGateway
}

var _ ports.CheckoutGateway = (*StripeCheckout)(nil)

// NewStripeCheckout wraps gateway.
func NewStripeCheckout(gateway *payments.StripeGateway) *StripeCheckout {
	return &StripeCheckout{gateway: gateway}
}

func (s *StripeCheckout) Name() string { return "stripe" }

func (s *StripeCheckout) CreateCheckout(ctx context.Context, req ports.CheckoutRequest) (ports.CheckoutSession, error) {
	checkout, err := s.gateway.CreateCheckout(ctx, payments.CheckoutItem{
		PaymentID:   req.PaymentID,
		UserID:      req.UserID,
		Name:        fmt.Sprintf("%s credits (%d)", req.Package.Name, req.Package.Credits),
		AmountPence: int64(req.Package.PricePence),
		Metadata: map[string]string{
			"package_id": req.Package.ID,
			"credits":    strconv.FormatInt(req.Package.Credits, 10),
		},
	})
	if err != nil {
		return ports.CheckoutSession{}, err
	}
	return ports.CheckoutSession{ID: checkout.SessionID, URL: checkout.URL}, nil
}

func (s *StripeCheckout) ParseWebhook(payload []byte, signatureHeader string) (domain.PaymentEvent, bool, error) {
	event, err := s.gateway.ParseWebhook(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			return domain.PaymentEvent{}, false, domain.ErrInvalidSignature
		}
		return domain.PaymentEvent{}, false, err
	}
	var eventType domain.PaymentEventType
	switch event.Outcome {
	case payments.OutcomeCompleted:
		eventType = domain.EventPaymentCompleted
	case payments.OutcomeFailed:
		eventType = domain.EventPaymentFailed
	default:
		return domain.PaymentEvent{}, false, nil
	}
	metadata := make(map[string]any, len(event.Metadata))
	for key, value := range event.Metadata {
		metadata[key] = value
	}
	return domain.PaymentEvent{
		Type:              eventType,
		PaymentID:         event.PaymentID,
		ProviderPaymentID: event.PaymentIntentID,
		Metadata:          metadata,
	}, true, nil
}

// HMACWebhookVerifier adapts payments.HMACVerifier to ports.SignatureVerifier.
type HMACWebhookVerifier struct {
	verifier *payments.HMACVerifier
}

var _ ports.SignatureVerifier = (*HMACWebhookVerifier)(nil)

// NewHMACWebhookVerifier returns nil when secret is empty.
func NewHMACWebhookVerifier(secret string) *HMACWebhookVerifier {
	verifier := payments.NewHMACVerifier(secret)
	if verifier == nil {
		return nil
	}
	return &HMACWebhookVerifier{verifier: verifier}
}

func (v *HMACWebhookVerifier) Verify(payload []byte, signature string) error {
	if err := v.verifier.Verify(payload, signature); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}
