package postgres

import (
	"context"
	"errors"
	"fmt"

	"billing-event-pipeline/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo implements ports.SubscriptionStore. Writes take pgx.Tx so
// handler side effects commit atomically with webhook-event bookkeeping.
type SubscriptionRepo struct {
	pool Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(pool Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

// Upsert writes the mirrored subscription state. The upsert is keyed on
// customer_id so replaying the same event converges on the same row.
func (r *SubscriptionRepo) Upsert(ctx context.Context, tx pgx.Tx, sub *domain.Subscription) error {
	query := `INSERT INTO subscriptions (customer_id, plan, status, current_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id) DO UPDATE
		SET plan = EXCLUDED.plan,
		    status = EXCLUDED.status,
		    current_period_end = EXCLUDED.current_period_end,
		    updated_at = EXCLUDED.updated_at`

	_, err := tx.Exec(ctx, query,
		sub.CustomerID, sub.Plan, string(sub.Status), sub.CurrentPeriodEnd, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// RecordPaymentFailure inserts a payment failure row. The primary key comes
// from the event id, so a replayed event inserts nothing new.
func (r *SubscriptionRepo) RecordPaymentFailure(ctx context.Context, tx pgx.Tx, failure *domain.PaymentFailure) error {
	query := `INSERT INTO payment_failures (id, customer_id, reason, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	_, err := tx.Exec(ctx, query,
		failure.ID, failure.CustomerID, failure.Reason, failure.OccurredAt, failure.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment failure: %w", err)
	}
	return nil
}

// GetByCustomerID fetches the mirrored subscription. Returns nil, nil when absent.
func (r *SubscriptionRepo) GetByCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	query := `SELECT customer_id, plan, status, current_period_end, updated_at
		FROM subscriptions WHERE customer_id = $1`

	sub := &domain.Subscription{}
	var status string
	err := r.pool.QueryRow(ctx, query, customerID).Scan(
		&sub.CustomerID, &sub.Plan, &status, &sub.CurrentPeriodEnd, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	sub.Status = domain.SubscriptionStatus(status)
	return sub, nil
}
