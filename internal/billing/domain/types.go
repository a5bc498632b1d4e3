package domain

import (
	"strconv"
	"time"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionPurchase     TransactionType = "purchase"
	TransactionSubscription TransactionType = "subscription"
	TransactionBonus        TransactionType = "bonus"
	TransactionRefund       TransactionType = "refund"
	TransactionUsage        TransactionType = "usage"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionSubscription, TransactionBonus, TransactionRefund, TransactionUsage:
		return true
	}
	return false
}

// UserCredits is the per-user balance row.
// Balance always equals TotalEarned - TotalSpent.
type UserCredits struct {
	UserID      string    `json:"user_id"`
	Balance     int64     `json:"credits_balance"`
	TotalEarned int64     `json:"total_earned_credits"`
	TotalSpent  int64     `json:"total_spent_credits"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreditTransaction is an append-only ledger entry. Amount is signed.
type CreditTransaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SubscriptionTier is a catalog entry seeded with the schema.
type SubscriptionTier struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MonthlyCredits int64    `json:"monthly_credits"`
	PricePence     int      `json:"price_pence"`
	Features       []string `json:"features"`
}

// FreeTierID is the tier every account starts on.
const FreeTierID = "free"

// DefaultTiers mirrors the rows seeded by the schema.
func DefaultTiers() []SubscriptionTier {
	return []SubscriptionTier{
		{ID: "free", Name: "Free", MonthlyCredits: 100, PricePence: 0, Features: []string{"openai", "anthropic"}},
		{ID: "pro", Name: "Pro", MonthlyCredits: 2000, PricePence: 1500, Features: []string{"openai", "anthropic", "github"}},
		{ID: "team", Name: "Team", MonthlyCredits: 10000, PricePence: 5000, Features: []string{"openai", "anthropic", "github", "priority"}},
	}
}

// SubscriptionMode selects how AI usage is paid for.
type SubscriptionMode string

const (
	ModeCredits SubscriptionMode = "credits"
	ModeBYOK    SubscriptionMode = "byok"
)

// Valid reports whether m is a known mode.
func (m SubscriptionMode) Valid() bool {
	return m == ModeCredits || m == ModeBYOK
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// BillingCycle is the length of a subscription cycle.
const BillingCycle = 30 * 24 * time.Hour

// UserSubscription is the single subscription row of a user.
type UserSubscription struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	TierID           string             `json:"tier_id"`
	Mode             SubscriptionMode   `json:"mode"`
	Status           SubscriptionStatus `json:"status"`
	CreditsThisCycle int64              `json:"credits_this_cycle"`
	CycleStart       time.Time          `json:"cycle_start"`
	CycleEnd         time.Time          `json:"cycle_end"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment records a credit purchase.
type Payment struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	Provider          string         `json:"provider"`
	AmountPence       int            `json:"amount_pence"`
	Status            PaymentStatus  `json:"status"`
	ProviderOrderID   string         `json:"provider_order_id,omitempty"`
	ProviderPaymentID string         `json:"provider_payment_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PricePence int    `json:"price_pence"`
}

// DefaultPackages is the static purchase catalog.
func DefaultPackages() []CreditPackage {
	return []CreditPackage{
		{ID: "starter", Name: "Starter", Credits: 500, PricePence: 500},
		{ID: "standard", Name: "Standard", Credits: 2000, PricePence: 1500},
		{ID: "bulk", Name: "Bulk", Credits: 5000, PricePence: 3000},
	}
}

// PaymentEventType names webhook outcomes.
type PaymentEventType string

const (
	EventPaymentCompleted PaymentEventType = "payment_completed"
	EventPaymentFailed    PaymentEventType = "payment_failed"
)

// PaymentEvent is a provider-agnostic webhook notification.
type PaymentEvent struct {
	Type              PaymentEventType `json:"type"`
	PaymentID         string           `json:"payment_id"`
	ProviderPaymentID string           `json:"provider_payment_id,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

// MetadataCredits extracts a positive "credits" entry from metadata.
// JSON numbers, integers and numeric strings are accepted.
func MetadataCredits(metadata map[string]any) (int64, bool) {
	raw, ok := metadata["credits"]
	if !ok {
		return 0, false
	}
	var credits int64
	switch v := raw.(type) {
	case float64:
		credits = int64(v)
	case int:
		credits = int64(v)
	case int64:
		credits = v
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		credits = parsed
	default:
		return 0, false
	}
	if credits <= 0 {
		return 0, false
	}
	return credits, true
}

// CloneMetadata returns a shallow copy, never nil.
func CloneMetadata(metadata map[string]any) map[string]any {
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}
