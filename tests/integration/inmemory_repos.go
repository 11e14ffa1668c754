package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"billing-event-pipeline/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// In-memory implementations of the storage ports, mirroring the conditional
// semantics of the PostgreSQL repos so the full stack can run without a
// database.

type inMemoryTransactor struct{}

func newInMemoryTransactor() *inMemoryTransactor { return &inMemoryTransactor{} }

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	return &inMemoryTx{}, nil
}

// inMemoryTx satisfies pgx.Tx; repo writes in these tests apply immediately,
// so commit and rollback are no-ops.
type inMemoryTx struct{}

func (t *inMemoryTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *inMemoryTx) Commit(ctx context.Context) error          { return nil }
func (t *inMemoryTx) Rollback(ctx context.Context) error        { return nil }
func (t *inMemoryTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *inMemoryTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *inMemoryTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *inMemoryTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *inMemoryTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *inMemoryTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *inMemoryTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *inMemoryTx) Conn() *pgx.Conn                                               { return nil }

type inMemoryEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.WebhookEvent
	byExt  map[string]uuid.UUID
}

func newInMemoryEventRepo() *inMemoryEventRepo {
	return &inMemoryEventRepo{
		events: make(map[uuid.UUID]*domain.WebhookEvent),
		byExt:  make(map[string]uuid.UUID),
	}
}

func (r *inMemoryEventRepo) Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byExt[event.ExternalEventID]; exists {
		return false, nil
	}
	cp := *event
	r.events[event.ID] = &cp
	r.byExt[event.ExternalEventID] = event.ID
	return true, nil
}

func (r *inMemoryEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (r *inMemoryEventRepo) GetByExternalID(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalEventID]
	if !ok {
		return nil, nil
	}
	cp := *r.events[id]
	return &cp, nil
}

func (r *inMemoryEventRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok || ev.Status != domain.EventStatusReceived {
		return false, nil
	}
	ev.Status = domain.EventStatusProcessing
	return true, nil
}

func (r *inMemoryEventRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.events[id]
	ev.Status = domain.EventStatusProcessed
	ev.ProcessedAt = &processedAt
	ev.ErrorMessage = nil
	return nil
}

func (r *inMemoryEventRepo) Release(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.events[id]
	if ev.Status == domain.EventStatusProcessing {
		ev.Status = domain.EventStatusReceived
		ev.ProcessingAttempts++
		msg := domain.TruncateError(errMsg)
		ev.ErrorMessage = &msg
	}
	return nil
}

func (r *inMemoryEventRepo) Abandon(ctx context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.events[id]
	if ev.Status == domain.EventStatusProcessing || ev.Status == domain.EventStatusReceived {
		ev.Status = domain.EventStatusAbandoned
		ev.ProcessingAttempts++
		msg := domain.TruncateError(errMsg)
		ev.ErrorMessage = &msg
	}
	return nil
}

func (r *inMemoryEventRepo) ListUnprocessed(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookEvent
	for _, ev := range r.events {
		if ev.Status == domain.EventStatusReceived && ev.CreatedAt.Before(before) {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryEventRepo) ListUnresolved(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookEvent
	for _, ev := range r.events {
		if ev.Unresolved() && ev.CreatedAt.Before(before) {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryEventRepo) CountUnresolved(ctx context.Context, before time.Time) (int64, error) {
	events, _ := r.ListUnresolved(ctx, before, 1<<30)
	return int64(len(events)), nil
}

type inMemoryReportRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*domain.FailedUsageReport
}

func newInMemoryReportRepo() *inMemoryReportRepo {
	return &inMemoryReportRepo{reports: make(map[uuid.UUID]*domain.FailedUsageReport)}
}

func (r *inMemoryReportRepo) Create(ctx context.Context, report *domain.FailedUsageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *report
	r.reports[report.ID] = &cp
	return nil
}

func (r *inMemoryReportRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.FailedUsageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *rep
	return &cp, nil
}

func (r *inMemoryReportRepo) MarkSuccess(ctx context.Context, id uuid.UUID, succeededAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok || rep.SucceededAt != nil {
		return nil
	}
	rep.SucceededAt = &succeededAt
	rep.UpdatedAt = succeededAt
	return nil
}

func (r *inMemoryReportRepo) MarkFailure(ctx context.Context, report *domain.FailedUsageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[report.ID]
	if !ok || rep.SucceededAt != nil {
		return nil
	}
	rep.RetryCount = report.RetryCount
	rep.LastError = report.LastError
	rep.NextRetryAt = report.NextRetryAt
	rep.UpdatedAt = report.UpdatedAt
	return nil
}

func (r *inMemoryReportRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.FailedUsageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.FailedUsageReport
	for _, rep := range r.reports {
		if rep.Due(now) {
			out = append(out, *rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryReportRepo) ListExhausted(ctx context.Context, limit int) ([]domain.FailedUsageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.FailedUsageReport
	for _, rep := range r.reports {
		if rep.Exhausted() {
			out = append(out, *rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryReportRepo) CountExhausted(ctx context.Context) (int64, error) {
	reports, _ := r.ListExhausted(ctx, 1<<30)
	return int64(len(reports)), nil
}

type inMemorySubscriptionStore struct {
	mu            sync.Mutex
	subscriptions map[string]*domain.Subscription
	failures      map[uuid.UUID]*domain.PaymentFailure
	upserts       int
}

func newInMemorySubscriptionStore() *inMemorySubscriptionStore {
	return &inMemorySubscriptionStore{
		subscriptions: make(map[string]*domain.Subscription),
		failures:      make(map[uuid.UUID]*domain.PaymentFailure),
	}
}

func (s *inMemorySubscriptionStore) Upsert(ctx context.Context, tx pgx.Tx, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	cp := *sub
	s.subscriptions[sub.CustomerID] = &cp
	return nil
}

func (s *inMemorySubscriptionStore) RecordPaymentFailure(ctx context.Context, tx pgx.Tx, failure *domain.PaymentFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.failures[failure.ID]; exists {
		return nil
	}
	cp := *failure
	s.failures[failure.ID] = &cp
	return nil
}

func (s *inMemorySubscriptionStore) GetByCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[customerID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

// scriptedUsageClient fails deliveries with failWith until it is cleared.
type scriptedUsageClient struct {
	mu       sync.Mutex
	failWith error
	calls    int
}

func (c *scriptedUsageClient) ReportUsage(ctx context.Context, customerID string, quantity int64, occurredAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.failWith
}

func (c *scriptedUsageClient) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failWith = err
}

func (c *scriptedUsageClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
