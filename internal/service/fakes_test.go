package service

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"billing-event-pipeline/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fakeTx satisfies pgx.Tx and counts commits and rollbacks. It doubles as the
// transactor handed to services under test.
type fakeTx struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
	beginErr  error
	commitErr error
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) {
	if t.beginErr != nil {
		return nil, t.beginErr
	}
	return t, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.commitErr != nil {
		return t.commitErr
	}
	t.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbacks++
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                               { return nil }

// memEventRepo is an in-memory ports.WebhookEventRepository with the same
// conditional-update semantics as the real one.
type memEventRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.WebhookEvent
	byExt  map[string]uuid.UUID

	insertErr error
	claimErr  error
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{
		events: make(map[uuid.UUID]*domain.WebhookEvent),
		byExt:  make(map[string]uuid.UUID),
	}
}

func (r *memEventRepo) Insert(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return false, r.insertErr
	}
	if _, exists := r.byExt[event.ExternalEventID]; exists {
		return false, nil
	}
	cp := *event
	r.events[event.ID] = &cp
	r.byExt[event.ExternalEventID] = event.ID
	return true, nil
}

func (r *memEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (r *memEventRepo) GetByExternalID(ctx context.Context, externalEventID string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalEventID]
	if !ok {
		return nil, nil
	}
	cp := *r.events[id]
	return &cp, nil
}

func (r *memEventRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return false, r.claimErr
	}
	ev, ok := r.events[id]
	if !ok || ev.Status != domain.EventStatusReceived {
		return false, nil
	}
	ev.Status = domain.EventStatusProcessing
	return true, nil
}

func (r *memEventRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, id uuid.UUID, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.events[id]
	ev.Status = domain.EventStatusProcessed
	ev.ProcessedAt = &processedAt
	ev.ErrorMessage = nil
	return nil
}

func (r *memEventRepo) Release(ctx context.Context, id uuid.UUID, errMsg string) error {
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

func (r *memEventRepo) Abandon(ctx context.Context, id uuid.UUID, errMsg string) error {
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

func (r *memEventRepo) ListUnprocessed(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
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

func (r *memEventRepo) ListUnresolved(ctx context.Context, before time.Time, limit int) ([]domain.WebhookEvent, error) {
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

func (r *memEventRepo) CountUnresolved(ctx context.Context, before time.Time) (int64, error) {
	events, _ := r.ListUnresolved(ctx, before, 1<<30)
	return int64(len(events)), nil
}

// memReportRepo is an in-memory ports.UsageReportRepository.
type memReportRepo struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*domain.FailedUsageReport

	createErr error
}

func newMemReportRepo() *memReportRepo {
	return &memReportRepo{reports: make(map[uuid.UUID]*domain.FailedUsageReport)}
}

func (r *memReportRepo) Create(ctx context.Context, report *domain.FailedUsageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *report
	r.reports[report.ID] = &cp
	return nil
}

func (r *memReportRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.FailedUsageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *rep
	return &cp, nil
}

func (r *memReportRepo) MarkSuccess(ctx context.Context, id uuid.UUID, succeededAt time.Time) error {
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

func (r *memReportRepo) MarkFailure(ctx context.Context, report *domain.FailedUsageReport) error {
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

func (r *memReportRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.FailedUsageReport, error) {
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

func (r *memReportRepo) ListExhausted(ctx context.Context, limit int) ([]domain.FailedUsageReport, error) {
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

func (r *memReportRepo) CountExhausted(ctx context.Context) (int64, error) {
	reports, _ := r.ListExhausted(ctx, 1<<30)
	return int64(len(reports)), nil
}

// fakeSeenCache is an in-memory ports.SeenEventCache.
type fakeSeenCache struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeSeenCache() *fakeSeenCache {
	return &fakeSeenCache{seen: make(map[string]bool)}
}

func (c *fakeSeenCache) Seen(ctx context.Context, externalEventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.seen[externalEventID], nil
}

func (c *fakeSeenCache) MarkSeen(ctx context.Context, externalEventID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.seen[externalEventID] = true
	return nil
}

// fakeSubscriptionStore records handler writes without a database.
type fakeSubscriptionStore struct {
	mu            sync.Mutex
	subscriptions map[string]*domain.Subscription
	failures      map[uuid.UUID]*domain.PaymentFailure
	upsertErr     error
}

func newFakeSubscriptionStore() *fakeSubscriptionStore {
	return &fakeSubscriptionStore{
		subscriptions: make(map[string]*domain.Subscription),
		failures:      make(map[uuid.UUID]*domain.PaymentFailure),
	}
}

func (s *fakeSubscriptionStore) Upsert(ctx context.Context, tx pgx.Tx, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	cp := *sub
	s.subscriptions[sub.CustomerID] = &cp
	return nil
}

func (s *fakeSubscriptionStore) RecordPaymentFailure(ctx context.Context, tx pgx.Tx, failure *domain.PaymentFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.failures[failure.ID]; exists {
		return nil
	}
	cp := *failure
	s.failures[failure.ID] = &cp
	return nil
}

func (s *fakeSubscriptionStore) GetByCustomerID(ctx context.Context, customerID string) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[customerID]
	if !ok {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

// fakeLock is an always-available ports.SchedulerLock that records acquires.
type fakeLock struct {
	mu       sync.Mutex
	acquired []string
	held     map[string]bool
	err      error
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (l *fakeLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[name] {
		return nil, false, nil
	}
	l.acquired = append(l.acquired, name)
	l.held[name] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held[name] = false
	}, true, nil
}
