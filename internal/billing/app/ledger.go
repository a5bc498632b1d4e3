package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	authdomain "nexus/internal/auth/domain"
	"nexus/internal/billing/domain"
	"nexus/internal/infra/observability"
	sharederrors "nexus/internal/shared/errors"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

// CreditsForUsage converts a token count into credits for model.
func (s *Service) CreditsForUsage(model string, totalTokens int) int64 {
	return s.rates.CreditsForUsage(model, totalTokens)
}

// Balance returns the user's credits; users without a row read as zero.
func (s *Service) Balance(ctx context.Context, userID string) (domain.UserCredits, error) {
	return s.ledger.Balance(ctx, userID)
}

// Debit charges credits for usage. Non-positive amounts are a no-op and
// return a zero transaction.
func (s *Service) Debit(ctx context.Context, userID string, credits int64, metadata map[string]any) (domain.CreditTransaction, error) {
	if credits <= 0 {
		return domain.CreditTransaction{}, nil
	}
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanCreditDebit,
		attribute.String(observability.AttrUserID, userID),
		attribute.Int64(observability.AttrCredits, credits),
	)
	defer span.End()

	tx, err := s.ledger.Debit(ctx, userID, credits, domain.CloneMetadata(metadata), s.now())
	if err != nil {
		observability.FailSpan(span, err, "debit failed")
		return domain.CreditTransaction{}, err
	}
	model, _ := metadata["model"].(string)
	s.metrics.RecordCreditsDebited(ctx, model, credits)
	return tx, nil
}

// Grant adds credits outside of a payment flow.
func (s *Service) Grant(ctx context.Context, userID string, amount int64, txType domain.TransactionType, metadata map[string]any) (domain.CreditTransaction, error) {
	if amount <= 0 {
		return domain.CreditTransaction{}, sharederrors.NewValidationError("amount", "must be positive")
	}
	if !txType.Valid() || txType == domain.TransactionUsage {
		return domain.CreditTransaction{}, sharederrors.NewValidationError("type", "%q cannot be granted", txType)
	}
	return s.ledger.Grant(ctx, userID, amount, txType, domain.CloneMetadata(metadata), s.now())
}

// ListTransactions returns the newest transactions first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int, before *time.Time) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	return s.ledger.ListTransactions(ctx, userID, limit, before)
}

// UserRegistered grants the signup bonus and opens a free subscription.
func (s *Service) UserRegistered(ctx context.Context, user authdomain.User) error {
	if _, err := s.ensureFree(ctx, user.ID); err != nil {
		return fmt.Errorf("open free subscription: %w", err)
	}
	if s.config.SignupBonusCredits == 0 {
		return nil
	}
	if _, err := s.ledger.Grant(ctx, user.ID, s.config.SignupBonusCredits, domain.TransactionBonus,
		map[string]any{"reason": "signup"}, s.now()); err != nil {
		return fmt.Errorf("grant signup bonus: %w", err)
	}
	s.logger.Info("Granted %d signup credits to %s", s.config.SignupBonusCredits, user.ID)
	return nil
}

func normalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
