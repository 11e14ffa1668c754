package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the processor-side subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// Subscription is the locally mirrored billing state for a customer, kept in
// sync by the subscription.updated webhook handler.
type Subscription struct {
	CustomerID       string             `json:"customer_id"`
	Plan             string             `json:"plan"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PaymentFailure records a payment.failed notification for a customer.
type PaymentFailure struct {
	ID         uuid.UUID `json:"id"`
	CustomerID string    `json:"customer_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
