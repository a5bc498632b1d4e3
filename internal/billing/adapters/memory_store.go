package adapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nexus/internal/billing/domain"
	"nexus/internal/billing/ports"
)

// MemoryStore implements the billing stores in memory for tests and local runs.
type MemoryStore struct {
	mu            sync.Mutex
	credits       map[string]domain.UserCredits
	transactions  []domain.CreditTransaction
	tiers         map[string]domain.SubscriptionTier
	subscriptions map[string]domain.UserSubscription
	payments      map[string]domain.Payment
}

var (
	_ ports.LedgerStore       = (*MemoryStore)(nil)
	_ ports.SubscriptionStore = (*MemoryStore)(nil)
	_ ports.PaymentStore      = (*MemoryStore)(nil)
)

// NewMemoryStore builds a store seeded with the default tiers.
func NewMemoryStore() *MemoryStore {
	tiers := make(map[string]domain.SubscriptionTier)
	for _, tier := range domain.DefaultTiers() {
		tiers[tier.ID] = tier
	}
	return &MemoryStore{
		credits:       make(map[string]domain.UserCredits),
		tiers:         tiers,
		subscriptions: make(map[string]domain.UserSubscription),
		payments:      make(map[string]domain.Payment),
	}
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (domain.UserCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credits, ok := s.credits[userID]; ok {
		return credits, nil
	}
	return domain.UserCredits{UserID: userID}, nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, amount int64, metadata map[string]any, at time.Time) (domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credits, ok := s.credits[userID]
	if !ok || credits.Balance < amount {
		return domain.CreditTransaction{}, domain.ErrInsufficientCredits
	}
	credits.Balance -= amount
	credits.TotalSpent += amount
	credits.UpdatedAt = at
	s.credits[userID] = credits

	if sub, ok := s.subscriptions[userID]; ok && sub.Status == domain.SubscriptionActive {
		sub.CreditsThisCycle += amount
		sub.UpdatedAt = at
		s.subscriptions[userID] = sub
	}
	return s.appendLocked(userID, domain.TransactionUsage, -amount, credits.Balance, metadata, at), nil
}

func (s *MemoryStore) Grant(_ context.Context, userID string, amount int64, txType domain.TransactionType, metadata map[string]any, at time.Time) (domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grantLocked(userID, amount, txType, metadata, at), nil
}

func (s *MemoryStore) grantLocked(userID string, amount int64, txType domain.TransactionType, metadata map[string]any, at time.Time) domain.CreditTransaction {
	credits := s.credits[userID]
	credits.UserID = userID
	credits.Balance += amount
	credits.TotalEarned += amount
	credits.UpdatedAt = at
	s.credits[userID] = credits
	return s.appendLocked(userID, txType, amount, credits.Balance, metadata, at)
}

func (s *MemoryStore) appendLocked(userID string, txType domain.TransactionType, amount, balanceAfter int64, metadata map[string]any, at time.Time) domain.CreditTransaction {
	tx := domain.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Metadata:     domain.CloneMetadata(metadata),
		CreatedAt:    at,
	}
	s.transactions = append(s.transactions, tx)
	return tx
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, limit int, before *time.Time) ([]domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CreditTransaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.UserID != userID {
			continue
		}
		if before != nil && !tx.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListTiers(_ context.Context) ([]domain.SubscriptionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SubscriptionTier, 0, len(s.tiers))
	for _, tier := range s.tiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PricePence < out[j].PricePence })
	return out, nil
}

func (s *MemoryStore) GetTier(_ context.Context, id string) (domain.SubscriptionTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tier, ok := s.tiers[id]
	if !ok {
		return domain.SubscriptionTier{}, domain.ErrTierNotFound
	}
	return tier, nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, userID string) (domain.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return domain.UserSubscription{}, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *MemoryStore) EnsureSubscription(_ context.Context, sub domain.UserSubscription) (domain.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subscriptions[sub.UserID]; ok {
		return existing, nil
	}
	if _, ok := s.tiers[sub.TierID]; !ok {
		return domain.UserSubscription{}, domain.ErrTierNotFound
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	s.subscriptions[sub.UserID] = sub
	return sub, nil
}

func (s *MemoryStore) ResetToTier(_ context.Context, userID string, tier domain.SubscriptionTier, cycleStart time.Time) (domain.UserSubscription, *domain.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credits := s.credits[userID]
	credits.UserID = userID
	delta := tier.MonthlyCredits - credits.Balance
	var tx *domain.CreditTransaction
	if delta != 0 {
		if delta > 0 {
			credits.TotalEarned += delta
		} else {
			credits.TotalSpent -= delta
		}
		credits.Balance = tier.MonthlyCredits
		credits.UpdatedAt = cycleStart
		s.credits[userID] = credits
		recorded := s.appendLocked(userID, domain.TransactionSubscription, delta, credits.Balance,
			map[string]any{"tier_id": tier.ID}, cycleStart)
		tx = &recorded
	}

	sub, ok := s.subscriptions[userID]
	if !ok {
		sub = domain.UserSubscription{ID: uuid.NewString(), UserID: userID, CreatedAt: cycleStart}
	}
	sub.TierID = tier.ID
	sub.Mode = domain.ModeCredits
	sub.Status = domain.SubscriptionActive
	sub.CreditsThisCycle = 0
	sub.CycleStart = cycleStart
	sub.CycleEnd = cycleStart.Add(domain.BillingCycle)
	sub.UpdatedAt = cycleStart
	s.subscriptions[userID] = sub
	return sub, tx, nil
}

func (s *MemoryStore) SetMode(_ context.Context, userID string, mode domain.SubscriptionMode, at time.Time) (domain.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return domain.UserSubscription{}, domain.ErrSubscriptionNotFound
	}
	sub.Mode = mode
	sub.Status = domain.SubscriptionActive
	sub.UpdatedAt = at
	s.subscriptions[userID] = sub
	return sub, nil
}

func (s *MemoryStore) Cancel(_ context.Context, userID string, at time.Time) (domain.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[userID]
	if !ok {
		return domain.UserSubscription{}, domain.ErrSubscriptionNotFound
	}
	sub.TierID = domain.FreeTierID
	sub.Status = domain.SubscriptionCancelled
	sub.UpdatedAt = at
	s.subscriptions[userID] = sub
	return sub, nil
}

func (s *MemoryStore) DueForRollover(_ context.Context, now time.Time) ([]domain.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.UserSubscription
	for _, sub := range s.subscriptions {
		if sub.Status == domain.SubscriptionActive && sub.Mode == domain.ModeCredits && !sub.CycleEnd.After(now) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment.Metadata = domain.CloneMetadata(payment.Metadata)
	s.payments[payment.ID] = payment
	return payment, nil
}

func (s *MemoryStore) GetPayment(_ context.Context, id string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *MemoryStore) SetProviderOrder(_ context.Context, id, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	payment.ProviderOrderID = orderID
	payment.UpdatedAt = at
	s.payments[id] = payment
	return nil
}

func (s *MemoryStore) CompletePayment(_ context.Context, id, providerPaymentID string, eventMetadata map[string]any, at time.Time) (ports.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[id]
	if !ok {
		return ports.CompletionResult{}, domain.ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentPending {
		return ports.CompletionResult{Payment: payment}, nil
	}
	payment.Status = domain.PaymentCompleted
	if providerPaymentID != "" {
		payment.ProviderPaymentID = providerPaymentID
	}
	payment.UpdatedAt = at
	s.payments[id] = payment

	result := ports.CompletionResult{Payment: payment, Applied: true}
	if credits, ok := purchaseCredits(payment.Metadata, eventMetadata); ok {
		tx := s.grantLocked(payment.UserID, credits, domain.TransactionPurchase, purchaseMetadata(payment), at)
		result.Transaction = &tx
	}
	return result, nil
}

func (s *MemoryStore) FailPayment(_ context.Context, id, providerPaymentID string, at time.Time) (domain.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[id]
	if !ok {
		return domain.Payment{}, false, domain.ErrPaymentNotFound
	}
	if payment.Status != domain.PaymentPending {
		return payment, false, nil
	}
	payment.Status = domain.PaymentFailed
	if providerPaymentID != "" {
		payment.ProviderPaymentID = providerPaymentID
	}
	payment.UpdatedAt = at
	s.payments[id] = payment
	return payment, true, nil
}
