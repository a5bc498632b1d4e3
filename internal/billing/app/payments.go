package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"nexus/internal/billing/domain"
	"nexus/internal/billing/ports"
	sharederrors "nexus/internal/shared/errors"
	jsonx "nexus/internal/shared/json"
)

// PurchaseResult is returned when a purchase is started.
type PurchaseResult struct {
	Payment     domain.Payment `json:"payment"`
	CheckoutURL string         `json:"checkout_url,omitempty"`
}

// Packages lists the purchasable credit packages.
func (s *Service) Packages() []domain.CreditPackage {
	out := make([]domain.CreditPackage, len(s.config.Packages))
	copy(out, s.config.Packages)
	return out
}

func (s *Service) findPackage(id string) (domain.CreditPackage, bool) {
	id = normalizeID(id)
	for _, pkg := range s.config.Packages {
		if pkg.ID == id {
			return pkg, true
		}
	}
	return domain.CreditPackage{}, false
}

// CreatePurchase records a pending payment for a package and, when a gateway
// is configured, opens a hosted checkout for it.
func (s *Service) CreatePurchase(ctx context.Context, userID, packageID string) (PurchaseResult, error) {
	pkg, ok := s.findPackage(packageID)
	if !ok {
		return PurchaseResult{}, domain.ErrPackageNotFound
	}
	provider := "manual"
	if s.gateway != nil {
		provider = s.gateway.Name()
	}
	now := s.now()
	payment, err := s.payments.CreatePayment(ctx, domain.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    provider,
		AmountPence: pkg.PricePence,
		Status:      domain.PaymentPending,
		Metadata:    map[string]any{"package_id": pkg.ID, "credits": pkg.Credits},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	if s.gateway == nil {
		return PurchaseResult{Payment: payment}, nil
	}

	session, err := s.gateway.CreateCheckout(ctx, ports.CheckoutRequest{PaymentID: payment.ID, UserID: userID, Package: pkg})
	if err != nil {
		if _, _, failErr := s.payments.FailPayment(ctx, payment.ID, "", s.now()); failErr != nil {
			s.logger.Warn("Failed to mark payment %s failed: %v", payment.ID, failErr)
		}
		return PurchaseResult{}, fmt.Errorf("create checkout: %w", err)
	}
	if err := s.payments.SetProviderOrder(ctx, payment.ID, session.ID, s.now()); err != nil {
		return PurchaseResult{}, err
	}
	payment.ProviderOrderID = session.ID
	return PurchaseResult{Payment: payment, CheckoutURL: session.URL}, nil
}

// CompletePayment applies a payment webhook event. Replays of an already
// processed payment are accepted without mutating anything.
func (s *Service) CompletePayment(ctx context.Context, event domain.PaymentEvent) (domain.Payment, error) {
	if _, err := uuid.Parse(event.PaymentID); err != nil {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	switch event.Type {
	case domain.EventPaymentCompleted:
		result, err := s.payments.CompletePayment(ctx, event.PaymentID, event.ProviderPaymentID, event.Metadata, s.now())
		if err != nil {
			return domain.Payment{}, err
		}
		if !result.Applied {
			s.logger.Info("Payment %s already %s; ignoring replay", event.PaymentID, result.Payment.Status)
		} else if result.Transaction != nil {
			s.logger.Info("Payment %s completed: %d credits to %s", event.PaymentID, result.Transaction.Amount, result.Payment.UserID)
		}
		return result.Payment, nil
	case domain.EventPaymentFailed:
		payment, applied, err := s.payments.FailPayment(ctx, event.PaymentID, event.ProviderPaymentID, s.now())
		if err != nil {
			return domain.Payment{}, err
		}
		if applied {
			s.logger.Warn("Payment %s failed for %s", event.PaymentID, payment.UserID)
		}
		return payment, nil
	default:
		return domain.Payment{}, sharederrors.NewValidationError("type", "unsupported event type %q", event.Type)
	}
}

// HandlePaymentWebhook authenticates and applies a signed generic webhook.
func (s *Service) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (domain.Payment, error) {
	if s.verifier == nil {
		return domain.Payment{}, domain.ErrPaymentsNotConfigured
	}
	if err := s.verifier.Verify(payload, signature); err != nil {
		s.metrics.RecordWebhookEvent(ctx, "generic", "unknown", "rejected")
		return domain.Payment{}, err
	}
	var event domain.PaymentEvent
	decoder := jsonx.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&event); err != nil {
		return domain.Payment{}, sharederrors.NewValidationError("body", "invalid event payload")
	}
	event.Metadata = normalizeNumbers(event.Metadata)
	payment, err := s.CompletePayment(ctx, event)
	s.metrics.RecordWebhookEvent(ctx, "generic", string(event.Type), webhookStatus(err))
	return payment, err
}

// HandleProviderWebhook authenticates and applies a checkout provider webhook.
// Events that carry no payment outcome are acknowledged and ignored.
func (s *Service) HandleProviderWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if s.gateway == nil {
		return domain.ErrPaymentsNotConfigured
	}
	source := s.gateway.Name()
	event, ok, err := s.gateway.ParseWebhook(payload, signatureHeader)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, source, "unknown", "rejected")
		return err
	}
	if !ok {
		s.metrics.RecordWebhookEvent(ctx, source, "ignored", "ok")
		return nil
	}
	_, err = s.CompletePayment(ctx, event)
	s.metrics.RecordWebhookEvent(ctx, source, string(event.Type), webhookStatus(err))
	return err
}

func webhookStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPaymentNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func normalizeNumbers(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	for key, value := range metadata {
		if number, ok := value.(jsonx.Number); ok {
			if n, err := number.Int64(); err == nil {
				metadata[key] = n
			} else if f, err := number.Float64(); err == nil {
				metadata[key] = f
			}
		}
	}
	return metadata
}
