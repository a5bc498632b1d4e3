package ports

import (
	"context"
	"time"

	"nexus/internal/billing/domain"
)

// LedgerStore persists balances and the transaction log. Every mutation keeps
// credits_balance = total_earned_credits - total_spent_credits.
type LedgerStore interface {
	// Balance returns a zero-valued row for users without credits.
	Balance(ctx context.Context, userID string) (domain.UserCredits, error)
	// Debit atomically subtracts amount, appends a usage transaction and adds
	// amount to the active subscription's cycle counter. Insufficient balance
	// yields domain.ErrInsufficientCredits with no mutation.
	Debit(ctx context.Context, userID string, amount int64, metadata map[string]any, at time.Time) (domain.CreditTransaction, error)
	// Grant upserts the balance row adding amount to balance and total earned.
	Grant(ctx context.Context, userID string, amount int64, txType domain.TransactionType, metadata map[string]any, at time.Time) (domain.CreditTransaction, error)
	ListTransactions(ctx context.Context, userID string, limit int, before *time.Time) ([]domain.CreditTransaction, error)
}

// SubscriptionStore persists tiers and per-user subscriptions.
type SubscriptionStore interface {
	ListTiers(ctx context.Context) ([]domain.SubscriptionTier, error)
	GetTier(ctx context.Context, id string) (domain.SubscriptionTier, error)
	GetSubscription(ctx context.Context, userID string) (domain.UserSubscription, error)
	// EnsureSubscription inserts sub unless the user already has one and
	// returns the stored row.
	EnsureSubscription(ctx context.Context, sub domain.UserSubscription) (domain.UserSubscription, error)
	// ResetToTier sets the balance to the tier's monthly credits, records the
	// delta as a subscription transaction and starts a new cycle in credits
	// mode, all atomically. The transaction is nil when the delta is zero.
	ResetToTier(ctx context.Context, userID string, tier domain.SubscriptionTier, cycleStart time.Time) (domain.UserSubscription, *domain.CreditTransaction, error)
	SetMode(ctx context.Context, userID string, mode domain.SubscriptionMode, at time.Time) (domain.UserSubscription, error)
	Cancel(ctx context.Context, userID string, at time.Time) (domain.UserSubscription, error)
	// DueForRollover lists active credits-mode subscriptions whose cycle ended.
	DueForRollover(ctx context.Context, now time.Time) ([]domain.UserSubscription, error)
}

// CompletionResult describes the outcome of a completion attempt.
type CompletionResult struct {
	Payment     domain.Payment
	Transaction *domain.CreditTransaction
	// Applied is false when the payment was already processed.
	Applied bool
}

// PaymentStore persists payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, payment domain.Payment) (domain.Payment, error)
	GetPayment(ctx context.Context, id string) (domain.Payment, error)
	SetProviderOrder(ctx context.Context, id, orderID string, at time.Time) error
	// CompletePayment moves a pending payment to completed and credits the
	// user in the same transaction. Credits come from eventMetadata when it
	// names a positive amount, otherwise from the stored metadata.
	CompletePayment(ctx context.Context, id, providerPaymentID string, eventMetadata map[string]any, at time.Time) (CompletionResult, error)
	// FailPayment moves a pending payment to failed.
	FailPayment(ctx context.Context, id, providerPaymentID string, at time.Time) (domain.Payment, bool, error)
}

// CheckoutRequest describes a hosted checkout for one credit package.
type CheckoutRequest struct {
	PaymentID string
	UserID    string
	Package   domain.CreditPackage
}

// CheckoutSession is the provider's checkout handle.
type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutGateway creates hosted checkouts and decodes provider webhooks.
type CheckoutGateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	// ParseWebhook verifies and decodes a provider webhook. ok is false for
	// authenticated events that carry no payment outcome.
	ParseWebhook(payload []byte, signatureHeader string) (event domain.PaymentEvent, ok bool, err error)
}

// SignatureVerifier authenticates the generic payment webhook.
type SignatureVerifier interface {
	Verify(payload []byte, signature string) error
}
