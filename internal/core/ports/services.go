package ports

import (
	"context"
	"encoding/json"
	"time"

	"billing-event-pipeline/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Clock supplies the current time. Injected everywhere mutation depends on
// "now" so backoff and due-selection are deterministic under test.
type Clock interface {
	Now() time.Time
}

// ProcessOutcome is the result of one processing attempt on a webhook event.
type ProcessOutcome string

const (
	// OutcomeProcessed: side effect applied, event terminally succeeded.
	OutcomeProcessed ProcessOutcome = "PROCESSED"
	// OutcomeRetrying: retryable failure, the event returned to RECEIVED and
	// will be picked up by a later reconciliation pass.
	OutcomeRetrying ProcessOutcome = "RETRYING"
	// OutcomeAbandoned: terminal failure, excluded from automatic retry.
	OutcomeAbandoned ProcessOutcome = "ABANDONED"
	// OutcomeDeferred: the event could not be claimed (another attempt is in
	// flight) or was already resolved; nothing was done.
	OutcomeDeferred ProcessOutcome = "DEFERRED"
)

// IngestRequest is a verified inbound webhook notification.
type IngestRequest struct {
	ExternalEventID string
	EventType       string
	Source          string
	Payload         json.RawMessage
}

// IngestResult reports whether the event was new and how processing ended.
type IngestResult struct {
	Event   *domain.WebhookEvent
	New     bool
	Outcome ProcessOutcome
}

// IngestionService is the webhook ingestion entry point plus the processing
// state machine re-driven by the reconciler.
type IngestionService interface {
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)
	ProcessEvent(ctx context.Context, event *domain.WebhookEvent) (ProcessOutcome, error)
	UnresolvedEvents(ctx context.Context, olderThan time.Duration, limit int) ([]domain.WebhookEvent, int64, error)
}

// UsageSubmission is a metered-usage report to forward to the processor.
type UsageSubmission struct {
	UserID     uuid.UUID
	CustomerID string
	Quantity   int64
	OccurredAt time.Time
}

// UsageResult reports whether delivery happened inline or was queued.
type UsageResult struct {
	Delivered bool
	Report    *domain.FailedUsageReport // non-nil when queued for retry
}

// UsageService is the usage-report submission entry point and retry queue.
// Transient delivery failures never propagate to the submitter; they enqueue.
type UsageService interface {
	SubmitUsage(ctx context.Context, sub UsageSubmission) (*UsageResult, error)
	RetryReport(ctx context.Context, report *domain.FailedUsageReport) error
	ExhaustedReports(ctx context.Context, limit int) ([]domain.FailedUsageReport, int64, error)
}

// UsageReportClient delivers one usage report to the external payment
// processor. Implementations classify failures via pkg/apperror so callers
// can distinguish transient from permanent.
type UsageReportClient interface {
	ReportUsage(ctx context.Context, customerID string, quantity int64, occurredAt time.Time) error
}

// EventHandler applies the domain side effect for one event type. The handler
// runs inside the supplied transaction; the state machine commits it together
// with the event's processed mark. Handlers must be idempotent per
// external_event_id.
type EventHandler interface {
	Handle(ctx context.Context, tx pgx.Tx, event *domain.WebhookEvent) error
}

// HandlerRegistry resolves an event type to its handler. New event types are
// registrations, not edits to dispatch code.
type HandlerRegistry interface {
	Resolve(eventType string) (EventHandler, bool)
	Types() []string
}

// SchedulerLock prevents overlapping reconciliation passes across instances.
// Acquire returns ok=false when another holder has the lock; release is
// best-effort and safe to call once.
type SchedulerLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}
