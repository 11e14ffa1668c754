package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-event-pipeline/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WebhookEventRepo implements ports.WebhookEventRepository.
type WebhookEventRepo struct {
	pool Pool
}

// NewWebhookEventRepo creates a new WebhookEventRepo.
func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

const webhookEventColumns = `id, external_event_id, event_type, source, status, processing_attempts, payload, error_message, created_at, processed_at`

// Insert stores a new event. The ON CONFLICT DO NOTHING clause makes the
// uniqueness check and insert one atomic statement: two concurrent deliveries
// of the same external id cannot both insert. Returns false when the external
// id was already present.
func (r *WebhookEventRepo) Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	query := `INSERT INTO webhook_events
		(id, external_event_id, event_type, source, status, processing_attempts, payload, error_message, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_event_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		event.ID, event.ExternalEventID, event.EventType, event.Source,
		string(event.Status), event.ProcessingAttempts, event.Payload,
		event.ErrorMessage, event.CreatedAt, event.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches an event by primary key. Returns nil, nil when absent.
func (r *WebhookEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetByExternalID fetches an event by its deduplication key. Returns nil, nil when absent.
func (r *WebhookEventRepo) GetByExternalID(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE external_event_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, externalEventID))
}

// Claim conditionally transitions RECEIVED -> PROCESSING. The status
// predicate is the compare-and-swap guard: overlapping workers race on this
// single statement and exactly one wins.
func (r *WebhookEventRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE webhook_events SET status = $1 WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query,
		string(domain.EventStatusProcessing), id, string(domain.EventStatusReceived))
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed settles the event inside the handler's transaction.
func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, processedAt time.Time) error {
	query := `UPDATE webhook_events
		SET status = $1, processed_at = $2, error_message = NULL
		WHERE id = $3 AND status = $4`

	tag, err := tx.Exec(ctx, query,
		string(domain.EventStatusProcessed), processedAt, id, string(domain.EventStatusProcessing))
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("mark webhook event processed: event %s not in processing state", id)
	}
	return nil
}

// Release returns a claimed event to RECEIVED after a retryable failure.
func (r *WebhookEventRepo) Release(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `UPDATE webhook_events
		SET status = $1, processing_attempts = processing_attempts + 1, error_message = $2
		WHERE id = $3 AND status = $4`

	_, err := r.pool.Exec(ctx, query,
		string(domain.EventStatusReceived), domain.TruncateError(errMsg),
		id, string(domain.EventStatusProcessing))
	if err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}

// Abandon marks the event terminally failed. It applies from either the
// PROCESSING or RECEIVED state so malformed events can be parked without
// being claimed first.
func (r *WebhookEventRepo) Abandon(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `UPDATE webhook_events
		SET status = $1, processing_attempts = processing_attempts + 1, error_message = $2
		WHERE id = $3 AND status IN ($4, $5)`

	_, err := r.pool.Exec(ctx, query,
		string(domain.EventStatusAbandoned), domain.TruncateError(errMsg), id,
		string(domain.EventStatusProcessing), string(domain.EventStatusReceived))
	if err != nil {
		return fmt.Errorf("abandon webhook event: %w", err)
	}
	return nil
}

// ListUnprocessed returns RECEIVED events created before the cutoff, oldest
// first, for the reconciliation pass.
func (r *WebhookEventRepo) ListUnprocessed(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, string(domain.EventStatusReceived), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed webhook events: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListUnresolved returns RECEIVED or PROCESSING events older than the
// threshold, for operator introspection.
func (r *WebhookEventRepo) ListUnresolved(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE status IN ($1, $2) AND created_at < $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query,
		string(domain.EventStatusReceived), string(domain.EventStatusProcessing), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved webhook events: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// CountUnresolved counts RECEIVED or PROCESSING events older than the threshold.
func (r *WebhookEventRepo) CountUnresolved(ctx context.Context, before time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM webhook_events WHERE status IN ($1, $2) AND created_at < $3`

	var count int64
	err := r.pool.QueryRow(ctx, query,
		string(domain.EventStatusReceived), string(domain.EventStatusProcessing), before).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unresolved webhook events: %w", err)
	}
	return count, nil
}

func (r *WebhookEventRepo) scanOne(row pgx.Row) (*domain.WebhookEvent, error) {
	ev := &domain.WebhookEvent{}
	var status string
	err := row.Scan(
		&ev.ID, &ev.ExternalEventID, &ev.EventType, &ev.Source, &status,
		&ev.ProcessingAttempts, &ev.Payload, &ev.ErrorMessage, &ev.CreatedAt, &ev.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	ev.Status = domain.EventStatus(status)
	return ev, nil
}

func (r *WebhookEventRepo) scanMany(rows pgx.Rows) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		var status string
		if err := rows.Scan(
			&ev.ID, &ev.ExternalEventID, &ev.EventType, &ev.Source, &status,
			&ev.ProcessingAttempts, &ev.Payload, &ev.ErrorMessage, &ev.CreatedAt, &ev.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		ev.Status = domain.EventStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}
