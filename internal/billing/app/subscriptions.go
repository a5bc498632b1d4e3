package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nexus/internal/billing/domain"
	sharederrors "nexus/internal/shared/errors"
)

// Tiers lists the subscription catalog.
func (s *Service) Tiers(ctx context.Context) ([]domain.SubscriptionTier, error) {
	return s.subscriptions.ListTiers(ctx)
}

// GetSubscription returns the user's subscription, opening a free one for
// accounts created before subscriptions existed.
func (s *Service) GetSubscription(ctx context.Context, userID string) (domain.UserSubscription, error) {
	sub, err := s.subscriptions.GetSubscription(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, domain.ErrSubscriptionNotFound) {
		return domain.UserSubscription{}, err
	}
	return s.ensureFree(ctx, userID)
}

// UpdateSubscription switches mode and tier.
//
// Switching to credits resets the balance to the tier's monthly credits and
// starts a new cycle. An empty tierID keeps the current tier. Switching to
// byok only changes the mode.
func (s *Service) UpdateSubscription(ctx context.Context, userID string, mode domain.SubscriptionMode, tierID string) (domain.UserSubscription, error) {
	if !mode.Valid() {
		return domain.UserSubscription{}, sharederrors.NewValidationError("mode", "must be one of credits, byok")
	}
	current, err := s.GetSubscription(ctx, userID)
	if err != nil {
		return domain.UserSubscription{}, err
	}
	if mode == domain.ModeBYOK {
		return s.subscriptions.SetMode(ctx, userID, domain.ModeBYOK, s.now())
	}

	tierID = normalizeID(tierID)
	if tierID == "" {
		tierID = current.TierID
	}
	tier, err := s.subscriptions.GetTier(ctx, tierID)
	if err != nil {
		return domain.UserSubscription{}, err
	}
	sub, tx, err := s.subscriptions.ResetToTier(ctx, userID, tier, s.now())
	if err != nil {
		return domain.UserSubscription{}, err
	}
	if tx != nil {
		s.logger.Info("Subscription reset for %s to tier %s (delta %d)", userID, tier.ID, tx.Amount)
	}
	return sub, nil
}

// CancelSubscription drops the user back to the free tier.
func (s *Service) CancelSubscription(ctx context.Context, userID string) (domain.UserSubscription, error) {
	if _, err := s.GetSubscription(ctx, userID); err != nil {
		return domain.UserSubscription{}, err
	}
	return s.subscriptions.Cancel(ctx, userID, s.now())
}

// RolloverCycles refills credits-mode subscriptions whose cycle ended.
func (s *Service) RolloverCycles(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.subscriptions.DueForRollover(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due subscriptions: %w", err)
	}
	tiers := make(map[string]domain.SubscriptionTier)
	rolled := 0
	var errs []error
	for _, sub := range due {
		tier, ok := tiers[sub.TierID]
		if !ok {
			tier, err = s.subscriptions.GetTier(ctx, sub.TierID)
			if err != nil {
				errs = append(errs, fmt.Errorf("tier %s: %w", sub.TierID, err))
				continue
			}
			tiers[sub.TierID] = tier
		}
		if _, _, err := s.subscriptions.ResetToTier(ctx, sub.UserID, tier, now); err != nil {
			errs = append(errs, fmt.Errorf("rollover %s: %w", sub.UserID, err))
			continue
		}
		rolled++
	}
	if rolled > 0 {
		s.logger.Info("Rolled over %d subscription cycles", rolled)
	}
	return rolled, errors.Join(errs...)
}

func (s *Service) ensureFree(ctx context.Context, userID string) (domain.UserSubscription, error) {
	now := s.now()
	return s.subscriptions.EnsureSubscription(ctx, domain.UserSubscription{
		UserID:     userID,
		TierID:     domain.FreeTierID,
		Mode:       domain.ModeCredits,
		Status:     domain.SubscriptionActive,
		CycleStart: now,
		CycleEnd:   cycleEnd(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func cycleEnd(start time.Time) time.Time {
	return start.Add(domain.BillingCycle)
}
