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

// UsageReportRepo implements ports.UsageReportRepository.
type UsageReportRepo struct {
	pool Pool
}

// NewUsageReportRepo creates a new UsageReportRepo.
func NewUsageReportRepo(pool Pool) *UsageReportRepo {
	return &UsageReportRepo{pool: pool}
}

const usageReportColumns = `id, user_id, customer_id, quantity, timestamp, retry_count, max_retries, next_retry_at, last_error, succeeded_at, created_at, updated_at`

// Create inserts a newly queued report.
func (r *UsageReportRepo) Create(ctx context.Context, report *domain.FailedUsageReport) error {
	query := `INSERT INTO failed_usage_reports
		(id, user_id, customer_id, quantity, timestamp, retry_count, max_retries, next_retry_at, last_error, succeeded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		report.ID, report.UserID, report.CustomerID, report.Quantity, report.Timestamp,
		report.RetryCount, report.MaxRetries, report.NextRetryAt, report.LastError,
		report.SucceededAt, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage report: %w", err)
	}
	return nil
}

// GetByID fetches a report by primary key. Returns nil, nil when absent.
func (r *UsageReportRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.FailedUsageReport, error) {
	query := `SELECT ` + usageReportColumns + ` FROM failed_usage_reports WHERE id = $1`

	report := &domain.FailedUsageReport{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&report.ID, &report.UserID, &report.CustomerID, &report.Quantity, &report.Timestamp,
		&report.RetryCount, &report.MaxRetries, &report.NextRetryAt, &report.LastError,
		&report.SucceededAt, &report.CreatedAt, &report.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage report: %w", err)
	}
	return report, nil
}

// MarkSuccess sets terminal success. The succeeded_at IS NULL guard makes it
// sticky: a second call, or a call racing a concurrent failure write, changes
// nothing.
func (r *UsageReportRepo) MarkSuccess(ctx context.Context, id uuid.UUID, succeededAt time.Time) error {
	query := `UPDATE failed_usage_reports
		SET succeeded_at = $1, updated_at = $1
		WHERE id = $2 AND succeeded_at IS NULL`

	_, err := r.pool.Exec(ctx, query, succeededAt, id)
	if err != nil {
		return fmt.Errorf("mark usage report success: %w", err)
	}
	return nil
}

// MarkFailure persists the recomputed retry state. Guarded so a failure write
// can never override terminal success.
func (r *UsageReportRepo) MarkFailure(ctx context.Context, report *domain.FailedUsageReport) error {
	query := `UPDATE failed_usage_reports
		SET retry_count = $1, last_error = $2, next_retry_at = $3, updated_at = $4
		WHERE id = $5 AND succeeded_at IS NULL`

	_, err := r.pool.Exec(ctx, query,
		report.RetryCount, report.LastError, report.NextRetryAt, report.UpdatedAt, report.ID)
	if err != nil {
		return fmt.Errorf("mark usage report failure: %w", err)
	}
	return nil
}

// ListDue returns the outstanding reports due at the given instant, oldest-due
// first so staleness is bounded. Exhausted and succeeded records never match.
func (r *UsageReportRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.FailedUsageReport, error) {
	query := `SELECT ` + usageReportColumns + ` FROM failed_usage_reports
		WHERE succeeded_at IS NULL
		  AND retry_count <= max_retries
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due usage reports: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListExhausted returns unresolved reports past their retry budget, for
// operator review.
func (r *UsageReportRepo) ListExhausted(ctx context.Context, limit int) ([]domain.FailedUsageReport, error) {
	query := `SELECT ` + usageReportColumns + ` FROM failed_usage_reports
		WHERE succeeded_at IS NULL AND retry_count > max_retries
		ORDER BY updated_at ASC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list exhausted usage reports: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// CountExhausted counts unresolved reports past their retry budget.
func (r *UsageReportRepo) CountExhausted(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM failed_usage_reports WHERE succeeded_at IS NULL AND retry_count > max_retries`

	var count int64
	if err := r.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count exhausted usage reports: %w", err)
	}
	return count, nil
}

func (r *UsageReportRepo) scanMany(rows pgx.Rows) ([]domain.FailedUsageReport, error) {
	var reports []domain.FailedUsageReport
	for rows.Next() {
		var rep domain.FailedUsageReport
		if err := rows.Scan(
			&rep.ID, &rep.UserID, &rep.CustomerID, &rep.Quantity, &rep.Timestamp,
			&rep.RetryCount, &rep.MaxRetries, &rep.NextRetryAt, &rep.LastError,
			&rep.SucceededAt, &rep.CreatedAt, &rep.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage report: %w", err)
		}
		reports = append(reports, rep)
	}
	return reports, rows.Err()
}
