package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"nexus/internal/billing/domain"
	"nexus/internal/billing/ports"
	"nexus/internal/infra/postgres"
	jsonx "nexus/internal/shared/json"
)

// PostgresStore implements the billing stores on the shared pool.
type PostgresStore struct {
	db postgres.DB
}

var (
	_ ports.LedgerStore       = (*PostgresStore)(nil)
	_ ports.SubscriptionStore = (*PostgresStore)(nil)
	_ ports.PaymentStore      = (*PostgresStore)(nil)
)

// NewPostgresStore builds the billing store.
func NewPostgresStore(db postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Ledger

func (s *PostgresStore) Balance(ctx context.Context, userID string) (domain.UserCredits, error) {
	credits := domain.UserCredits{UserID: userID}
	err := s.db.QueryRow(ctx, `
SELECT credits_balance, total_earned_credits, total_spent_credits, updated_at
FROM user_credits WHERE user_id = $1`, userID).
		Scan(&credits.Balance, &credits.TotalEarned, &credits.TotalSpent, &credits.UpdatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.UserCredits{UserID: userID}, nil
		}
		return domain.UserCredits{}, err
	}
	return credits, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amount int64, metadata map[string]any, at time.Time) (domain.CreditTransaction, error) {
	var recorded domain.CreditTransaction
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx, `
UPDATE user_credits
SET credits_balance = credits_balance - $2,
    total_spent_credits = total_spent_credits + $2,
    updated_at = $3
WHERE user_id = $1 AND credits_balance >= $2
RETURNING credits_balance`, userID, amount, at).Scan(&balance)
		if err != nil {
			if postgres.IsNoRows(err) {
				return domain.ErrInsufficientCredits
			}
			return fmt.Errorf("debit credits: %w", err)
		}
		recorded, err = insertTransaction(ctx, tx, userID, domain.TransactionUsage, -amount, balance, metadata, at)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE user_subscriptions
SET credits_this_cycle = credits_this_cycle + $2, updated_at = $3
WHERE user_id = $1 AND status = 'active'`, userID, amount, at); err != nil {
			return fmt.Errorf("update cycle usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	return recorded, nil
}

func (s *PostgresStore) Grant(ctx context.Context, userID string, amount int64, txType domain.TransactionType, metadata map[string]any, at time.Time) (domain.CreditTransaction, error) {
	var recorded domain.CreditTransaction
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		recorded, err = grantTx(ctx, tx, userID, amount, txType, metadata, at)
		return err
	})
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	return recorded, nil
}

func grantTx(ctx context.Context, q postgres.Querier, userID string, amount int64, txType domain.TransactionType, metadata map[string]any, at time.Time) (domain.CreditTransaction, error) {
	var balance int64
	err := q.QueryRow(ctx, `
INSERT INTO user_credits (user_id, credits_balance, total_earned_credits, total_spent_credits, updated_at)
VALUES ($1, $2, $2, 0, $3)
ON CONFLICT (user_id) DO UPDATE
SET credits_balance = user_credits.credits_balance + EXCLUDED.credits_balance,
    total_earned_credits = user_credits.total_earned_credits + EXCLUDED.total_earned_credits,
    updated_at = EXCLUDED.updated_at
RETURNING credits_balance`, userID, amount, at).Scan(&balance)
	if err != nil {
		return domain.CreditTransaction{}, fmt.Errorf("grant credits: %w", err)
	}
	return insertTransaction(ctx, q, userID, txType, amount, balance, metadata, at)
}

func insertTransaction(ctx context.Context, q postgres.Querier, userID string, txType domain.TransactionType, amount, balanceAfter int64, metadata map[string]any, at time.Time) (domain.CreditTransaction, error) {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return domain.CreditTransaction{}, err
	}
	recorded := domain.CreditTransaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Metadata:     metadata,
		CreatedAt:    at,
	}
	if _, err := q.Exec(ctx, `
INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		recorded.ID, userID, string(txType), amount, balanceAfter, encoded, at); err != nil {
		return domain.CreditTransaction{}, fmt.Errorf("append transaction: %w", err)
	}
	return recorded, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int, before *time.Time) ([]domain.CreditTransaction, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, user_id, type, amount, balance_after, metadata, created_at
FROM credit_transactions
WHERE user_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
ORDER BY created_at DESC
LIMIT $3`, userID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CreditTransaction, 0)
	for rows.Next() {
		var tx domain.CreditTransaction
		var txType string
		var metadata []byte
		if err := rows.Scan(&tx.ID, &tx.UserID, &txType, &tx.Amount, &tx.BalanceAfter, &metadata, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = domain.TransactionType(txType)
		if tx.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Subscriptions

func (s *PostgresStore) ListTiers(ctx context.Context) ([]domain.SubscriptionTier, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, name, monthly_credits, price_pence, features
FROM subscription_tiers ORDER BY price_pence, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.SubscriptionTier, 0)
	for rows.Next() {
		tier, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tier)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTier(ctx context.Context, id string) (domain.SubscriptionTier, error) {
	tier, err := scanTier(s.db.QueryRow(ctx, `
SELECT id, name, monthly_credits, price_pence, features
FROM subscription_tiers WHERE id = $1`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.SubscriptionTier{}, domain.ErrTierNotFound
		}
		return domain.SubscriptionTier{}, err
	}
	return tier, nil
}

func scanTier(row rowScanner) (domain.SubscriptionTier, error) {
	var tier domain.SubscriptionTier
	var features []byte
	if err := row.Scan(&tier.ID, &tier.Name, &tier.MonthlyCredits, &tier.PricePence, &features); err != nil {
		return domain.SubscriptionTier{}, err
	}
	if len(features) > 0 {
		if err := jsonx.Unmarshal(features, &tier.Features); err != nil {
			return domain.SubscriptionTier{}, fmt.Errorf("decode tier features: %w", err)
		}
	}
	return tier, nil
}

const subscriptionColumns = `id, user_id, tier_id, mode, status, credits_this_cycle, cycle_start, cycle_end, created_at, updated_at`

func scanSubscription(row rowScanner) (domain.UserSubscription, error) {
	var sub domain.UserSubscription
	var mode, status string
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.TierID, &mode, &status, &sub.CreditsThisCycle,
		&sub.CycleStart, &sub.CycleEnd, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return domain.UserSubscription{}, err
	}
	sub.Mode = domain.SubscriptionMode(mode)
	sub.Status = domain.SubscriptionStatus(status)
	return sub, nil
}

func subscriptionResult(sub domain.UserSubscription, err error) (domain.UserSubscription, error) {
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.UserSubscription{}, domain.ErrSubscriptionNotFound
		}
		if postgres.IsForeignKeyViolation(err) {
			return domain.UserSubscription{}, domain.ErrTierNotFound
		}
		return domain.UserSubscription{}, err
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (domain.UserSubscription, error) {
	return subscriptionResult(scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM user_subscriptions WHERE user_id = $1`, userID)))
}

func (s *PostgresStore) EnsureSubscription(ctx context.Context, sub domain.UserSubscription) (domain.UserSubscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	return subscriptionResult(scanSubscription(s.db.QueryRow(ctx, `
INSERT INTO user_subscriptions (id, user_id, tier_id, mode, status, credits_this_cycle, cycle_start, cycle_end, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
ON CONFLICT (user_id) DO UPDATE SET user_id = user_subscriptions.user_id
RETURNING `+subscriptionColumns,
		sub.ID, sub.UserID, sub.TierID, string(sub.Mode), string(sub.Status), sub.CycleStart, sub.CycleEnd, sub.CreatedAt)))
}

func (s *PostgresStore) ResetToTier(ctx context.Context, userID string, tier domain.SubscriptionTier, cycleStart time.Time) (domain.UserSubscription, *domain.CreditTransaction, error) {
	var sub domain.UserSubscription
	var recorded *domain.CreditTransaction
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO user_credits (user_id, updated_at) VALUES ($1, $2)
ON CONFLICT (user_id) DO NOTHING`, userID, cycleStart); err != nil {
			return fmt.Errorf("ensure credits row: %w", err)
		}
		var balance int64
		if err := tx.QueryRow(ctx,
			`SELECT credits_balance FROM user_credits WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance); err != nil {
			return fmt.Errorf("lock credits row: %w", err)
		}

		delta := tier.MonthlyCredits - balance
		if delta != 0 {
			earned, spent := delta, int64(0)
			if delta < 0 {
				earned, spent = 0, -delta
			}
			if _, err := tx.Exec(ctx, `
UPDATE user_credits
SET credits_balance = credits_balance + $2 - $3,
    total_earned_credits = total_earned_credits + $2,
    total_spent_credits = total_spent_credits + $3,
    updated_at = $4
WHERE user_id = $1`, userID, earned, spent, cycleStart); err != nil {
				return fmt.Errorf("reset balance: %w", err)
			}
			entry, err := insertTransaction(ctx, tx, userID, domain.TransactionSubscription, delta, tier.MonthlyCredits,
				map[string]any{"tier_id": tier.ID}, cycleStart)
			if err != nil {
				return err
			}
			recorded = &entry
		}

		var err error
		sub, err = scanSubscription(tx.QueryRow(ctx, `
INSERT INTO user_subscriptions (id, user_id, tier_id, mode, status, credits_this_cycle, cycle_start, cycle_end, created_at, updated_at)
VALUES ($1, $2, $3, 'credits', 'active', 0, $4, $5, $4, $4)
ON CONFLICT (user_id) DO UPDATE
SET tier_id = EXCLUDED.tier_id,
    mode = 'credits',
    status = 'active',
    credits_this_cycle = 0,
    cycle_start = EXCLUDED.cycle_start,
    cycle_end = EXCLUDED.cycle_end,
    updated_at = EXCLUDED.updated_at
RETURNING `+subscriptionColumns,
			uuid.NewString(), userID, tier.ID, cycleStart, cycleStart.Add(domain.BillingCycle)))
		if err != nil {
			return fmt.Errorf("reset subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.UserSubscription{}, nil, err
	}
	return sub, recorded, nil
}

func (s *PostgresStore) SetMode(ctx context.Context, userID string, mode domain.SubscriptionMode, at time.Time) (domain.UserSubscription, error) {
	return subscriptionResult(scanSubscription(s.db.QueryRow(ctx, `
UPDATE user_subscriptions SET mode = $2, status = 'active', updated_at = $3
WHERE user_id = $1
RETURNING `+subscriptionColumns, userID, string(mode), at)))
}

func (s *PostgresStore) Cancel(ctx context.Context, userID string, at time.Time) (domain.UserSubscription, error) {
	return subscriptionResult(scanSubscription(s.db.QueryRow(ctx, `
UPDATE user_subscriptions SET tier_id = 'free', status = 'cancelled', updated_at = $2
WHERE user_id = $1
RETURNING `+subscriptionColumns, userID, at)))
}

func (s *PostgresStore) DueForRollover(ctx context.Context, now time.Time) ([]domain.UserSubscription, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+subscriptionColumns+` FROM user_subscriptions
WHERE status = 'active' AND mode = 'credits' AND cycle_end <= $1
ORDER BY user_id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.UserSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// Payments

const paymentColumns = `id, user_id, provider, amount_pence, status, provider_order_id, provider_payment_id, metadata, created_at, updated_at`

func scanPayment(row rowScanner) (domain.Payment, error) {
	var payment domain.Payment
	var status string
	var metadata []byte
	if err := row.Scan(&payment.ID, &payment.UserID, &payment.Provider, &payment.AmountPence, &status,
		&payment.ProviderOrderID, &payment.ProviderPaymentID, &metadata, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return domain.Payment{}, err
	}
	payment.Status = domain.PaymentStatus(status)
	var err error
	if payment.Metadata, err = decodeMetadata(metadata); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func paymentResult(payment domain.Payment, err error) (domain.Payment, error) {
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, err
	}
	return payment, nil
}

func (s *PostgresStore) CreatePayment(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	encoded, err := encodeMetadata(payment.Metadata)
	if err != nil {
		return domain.Payment{}, err
	}
	return paymentResult(scanPayment(s.db.QueryRow(ctx, `
INSERT INTO payments (id, user_id, provider, amount_pence, status, provider_order_id, provider_payment_id, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
RETURNING `+paymentColumns,
		payment.ID, payment.UserID, payment.Provider, payment.AmountPence, string(payment.Status),
		payment.ProviderOrderID, payment.ProviderPaymentID, encoded, payment.CreatedAt)))
}

func (s *PostgresStore) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q postgres.Querier, id string) (domain.Payment, error) {
	return paymentResult(scanPayment(q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)))
}

func (s *PostgresStore) SetProviderOrder(ctx context.Context, id, orderID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE payments SET provider_order_id = $2, updated_at = $3 WHERE id = $1`, id, orderID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresStore) CompletePayment(ctx context.Context, id, providerPaymentID string, eventMetadata map[string]any, at time.Time) (ports.CompletionResult, error) {
	var result ports.CompletionResult
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		payment, err := scanPayment(tx.QueryRow(ctx, `
UPDATE payments
SET status = 'completed',
    provider_payment_id = COALESCE(NULLIF($2, ''), provider_payment_id),
    updated_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING `+paymentColumns, id, providerPaymentID, at))
		if err != nil {
			if !postgres.IsNoRows(err) {
				return fmt.Errorf("complete payment: %w", err)
			}
			existing, err := getPayment(ctx, tx, id)
			if err != nil {
				return err
			}
			result = ports.CompletionResult{Payment: existing}
			return nil
		}

		result = ports.CompletionResult{Payment: payment, Applied: true}
		if credits, ok := purchaseCredits(payment.Metadata, eventMetadata); ok {
			entry, err := grantTx(ctx, tx, payment.UserID, credits, domain.TransactionPurchase, purchaseMetadata(payment), at)
			if err != nil {
				return err
			}
			result.Transaction = &entry
		}
		return nil
	})
	if err != nil {
		return ports.CompletionResult{}, err
	}
	return result, nil
}

func (s *PostgresStore) FailPayment(ctx context.Context, id, providerPaymentID string, at time.Time) (domain.Payment, bool, error) {
	payment, err := scanPayment(s.db.QueryRow(ctx, `
UPDATE payments
SET status = 'failed',
    provider_payment_id = COALESCE(NULLIF($2, ''), provider_payment_id),
    updated_at = $3
WHERE id = $1 AND status = 'pending'
RETURNING `+paymentColumns, id, providerPaymentID, at))
	if err == nil {
		return payment, true, nil
	}
	if !postgres.IsNoRows(err) {
		return domain.Payment{}, false, err
	}
	existing, err := s.GetPayment(ctx, id)
	if err != nil {
		return domain.Payment{}, false, err
	}
	return existing, false, nil
}
