package ports

import (
	"context"
	"time"

	"billing-event-pipeline/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookEventRepository defines persistence for inbound webhook events.
// All state transitions are single-statement conditional updates so that
// overlapping workers cannot lose updates.
type WebhookEventRepository interface {
	// Insert stores the event under the external_event_id uniqueness
	// constraint. Returns false (and no error) when a row for that external
	// id already exists — the duplicate-delivery case.
	Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	GetByExternalID(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error)
	// Claim transitions RECEIVED -> PROCESSING. Returns false when the event
	// was not claimable (another worker holds it, or it is already terminal).
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkProcessed runs inside the same transaction as the handler side
	// effect so success bookkeeping commits atomically with it.
	MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, processedAt time.Time) error
	// Release transitions PROCESSING -> RECEIVED after a retryable failure,
	// incrementing processing_attempts and recording the error.
	Release(ctx context.Context, id uuid.UUID, errMsg string) error
	// Abandon marks the event terminally failed; it is excluded from
	// automatic reprocessing and surfaced to operators.
	Abandon(ctx context.Context, id uuid.UUID, errMsg string) error
	// ListUnprocessed returns RECEIVED events created before the cutoff,
	// oldest first, for the reconciliation pass.
	ListUnprocessed(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error)
	// ListUnresolved returns RECEIVED or PROCESSING events older than the
	// threshold, for operator introspection.
	ListUnresolved(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error)
	CountUnresolved(ctx context.Context, before time.Time) (int64, error)
}

// UsageReportRepository defines persistence for the usage-report retry queue.
type UsageReportRepository interface {
	Create(ctx context.Context, report *domain.FailedUsageReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FailedUsageReport, error)
	// MarkSuccess sets succeeded_at, guarded by succeeded_at IS NULL so that
	// terminal success is sticky. Calling it twice is a no-op.
	MarkSuccess(ctx context.Context, id uuid.UUID, succeededAt time.Time) error
	// MarkFailure persists retry_count, last_error and next_retry_at from the
	// report, guarded by succeeded_at IS NULL.
	MarkFailure(ctx context.Context, report *domain.FailedUsageReport) error
	// ListDue returns outstanding reports whose next_retry_at has passed,
	// ascending by next_retry_at (oldest-due first).
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.FailedUsageReport, error)
	// ListExhausted returns unresolved reports past their retry budget.
	ListExhausted(ctx context.Context, limit int) ([]domain.FailedUsageReport, error)
	CountExhausted(ctx context.Context) (int64, error)
}

// SubscriptionStore persists the domain side effects of webhook handlers.
// Methods take pgx.Tx so the side effect commits atomically with the event's
// processed mark.
type SubscriptionStore interface {
	Upsert(ctx context.Context, tx pgx.Tx, sub *domain.Subscription) error
	RecordPaymentFailure(ctx context.Context, tx pgx.Tx, failure *domain.PaymentFailure) error
	GetByCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
