package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxRetries is the attempt ceiling for a queued usage report.
	DefaultMaxRetries = 10

	// MaxErrorLength bounds last_error storage growth.
	MaxErrorLength = 5000

	baseRetryDelay = 5 * time.Minute
	maxRetryDelay  = 24 * time.Hour
)

// FailedUsageReport is a metered-usage report whose direct delivery to the
// payment processor failed. It stays queued until delivery succeeds or the
// retry budget is exhausted; exhausted records are kept for operator review,
// never deleted, because an undelivered report is unbilled revenue.
type FailedUsageReport struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	CustomerID  string     `json:"customer_id"`
	Quantity    int64      `json:"quantity"`
	Timestamp   time.Time  `json:"timestamp"` // when the usage occurred, not when the row was created
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	LastError   *string    `json:"last_error"`
	SucceededAt *time.Time `json:"succeeded_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewFailedUsageReport queues a report after its direct delivery failed.
// The first retry is scheduled one base delay out; retry_count stays 0 until
// a queued retry itself fails.
func NewFailedUsageReport(userID uuid.UUID, customerID string, quantity int64, occurredAt time.Time, deliveryErr string, now time.Time) *FailedUsageReport {
	next := now.Add(RetryDelay(1))
	msg := TruncateError(deliveryErr)
	return &FailedUsageReport{
		ID:          uuid.New(),
		UserID:      userID,
		CustomerID:  customerID,
		Quantity:    quantity,
		Timestamp:   occurredAt,
		RetryCount:  0,
		MaxRetries:  DefaultMaxRetries,
		NextRetryAt: &next,
		LastError:   &msg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RetryDelay returns the backoff delay after the Nth failure:
// min(5 * 2^(N-1), 1440) minutes. N below 1 is treated as 1.
func RetryDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	// 5 * 2^9 minutes already exceeds the 24h cap; don't shift further.
	if n > 10 {
		return maxRetryDelay
	}
	d := baseRetryDelay << uint(n-1)
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// RegisterFailure records a failed retry attempt: increments the counter,
// stores the truncated error, and pushes next_retry_at out by the backoff
// delay for the new count.
func (r *FailedUsageReport) RegisterFailure(now time.Time, deliveryErr string) {
	r.RetryCount++
	msg := TruncateError(deliveryErr)
	r.LastError = &msg
	next := now.Add(RetryDelay(r.RetryCount))
	r.NextRetryAt = &next
	r.UpdatedAt = now
}

// MarkSucceeded sets terminal success. Idempotent: the first timestamp wins.
func (r *FailedUsageReport) MarkSucceeded(now time.Time) {
	if r.SucceededAt != nil {
		return
	}
	r.SucceededAt = &now
	r.UpdatedAt = now
}

// Succeeded reports terminal success.
func (r *FailedUsageReport) Succeeded() bool {
	return r.SucceededAt != nil
}

// Exhausted reports whether the record has used all permitted attempts
// without succeeding. Exhausted records are excluded from scheduling but
// remain queryable.
func (r *FailedUsageReport) Exhausted() bool {
	return r.SucceededAt == nil && r.RetryCount > r.MaxRetries
}

// Due reports whether the record is eligible for a retry at the given instant.
func (r *FailedUsageReport) Due(now time.Time) bool {
	if r.SucceededAt != nil || r.RetryCount > r.MaxRetries {
		return false
	}
	return r.NextRetryAt != nil && !r.NextRetryAt.After(now)
}

// TruncateError caps an error message at MaxErrorLength characters.
func TruncateError(msg string) string {
	if len(msg) > MaxErrorLength {
		return msg[:MaxErrorLength]
	}
	return msg
}
