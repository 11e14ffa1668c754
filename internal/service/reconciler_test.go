package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"billing-event-pipeline/config"
	"billing-event-pipeline/internal/core/domain"
	"billing-event-pipeline/internal/core/ports/mocks"
	"billing-event-pipeline/pkg/apperror"
	"billing-event-pipeline/pkg/clock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type reconcilerFixture struct {
	eventRepo  *memEventRepo
	reportRepo *memReportRepo
	lock       *fakeLock
	clock      *clock.Fake
	client     *mocks.MockUsageReportClient
	handler    *mocks.MockEventHandler
	rec        *Reconciler
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	ctrl := gomock.NewController(t)
	f := &reconcilerFixture{
		eventRepo:  newMemEventRepo(),
		reportRepo: newMemReportRepo(),
		lock:       newFakeLock(),
		clock:      clock.NewFake(testStart),
		client:     mocks.NewMockUsageReportClient(ctrl),
		handler:    mocks.NewMockEventHandler(ctrl),
	}

	reg := NewRegistry()
	reg.Register(EventTypeSubscriptionUpdated, f.handler)

	ingestSvc := NewIngestionService(f.eventRepo, newFakeSeenCache(), reg, &fakeTx{}, f.clock, 0, newTestLogger())
	usageSvc := NewUsageService(f.reportRepo, f.client, f.clock, newTestLogger())

	cfg := config.SchedulerConfig{
		UsageInterval:   10 * time.Millisecond,
		WebhookInterval: 10 * time.Millisecond,
		BatchSize:       10,
		Workers:         2,
		ItemTimeout:     time.Second,
		LockTTL:         time.Minute,
	}
	f.rec = NewReconciler(ingestSvc, usageSvc, f.eventRepo, f.reportRepo, f.lock, f.clock, cfg, newTestLogger())
	return f
}

func (f *reconcilerFixture) queueReport(t *testing.T, customerID string) *domain.FailedUsageReport {
	t.Helper()
	report := domain.NewFailedUsageReport(uuid.New(), customerID, 1, testStart.Add(-time.Hour), "initial failure", f.clock.Now())
	require.NoError(t, f.reportRepo.Create(context.Background(), report))
	return report
}

func TestRunUsagePass_RetriesDueReports(t *testing.T) {
	f := newReconcilerFixture(t)
	r1 := f.queueReport(t, "cus_1")
	r2 := f.queueReport(t, "cus_2")

	f.clock.Advance(10 * time.Minute) // both past their first next_retry_at
	f.client.EXPECT().ReportUsage(gomock.Any(), "cus_1", gomock.Any(), gomock.Any()).Return(nil)
	f.client.EXPECT().ReportUsage(gomock.Any(), "cus_2", gomock.Any(), gomock.Any()).Return(nil)

	n, err := f.rec.RunUsagePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{r1.ID, r2.ID} {
		stored, _ := f.reportRepo.GetByID(context.Background(), id)
		assert.NotNil(t, stored.SucceededAt)
	}
}

func TestRunUsagePass_NotDueMeansNoAttempts(t *testing.T) {
	f := newReconcilerFixture(t)
	f.queueReport(t, "cus_1")

	// next_retry_at is 5 minutes out; nothing is due yet.
	n, err := f.rec.RunUsagePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunUsagePass_FailuresKeepBackingOff(t *testing.T) {
	f := newReconcilerFixture(t)
	report := f.queueReport(t, "cus_1")

	f.clock.Advance(10 * time.Minute)
	f.client.EXPECT().ReportUsage(gomock.Any(), "cus_1", gomock.Any(), gomock.Any()).
		Return(apperror.ErrTransientDelivery(errors.New("still down")))

	n, err := f.rec.RunUsagePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.reportRepo.GetByID(context.Background(), report.ID)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *stored.NextRetryAt)

	// Immediately rerunning the pass finds nothing due.
	n, err = f.rec.RunUsagePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunUsagePass_SkipsWhenLockHeld(t *testing.T) {
	f := newReconcilerFixture(t)
	f.queueReport(t, "cus_1")
	f.clock.Advance(10 * time.Minute)

	_, ok, err := f.lock.Acquire(context.Background(), lockUsageRetry, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := f.rec.RunUsagePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "pass must yield while another holder has the lock")
}

func TestRunUsagePass_ProceedsWhenLockServiceDown(t *testing.T) {
	f := newReconcilerFixture(t)
	f.queueReport(t, "cus_1")
	f.clock.Advance(10 * time.Minute)
	f.lock.err = errors.New("redis unreachable")

	f.client.EXPECT().ReportUsage(gomock.Any(), "cus_1", gomock.Any(), gomock.Any()).Return(nil)

	n, err := f.rec.RunUsagePass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "lock outage degrades to an unlocked pass, not a stalled queue")
}

func TestRunWebhookPass_ReprocessesOldReceivedEvents(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	old := domain.NewWebhookEvent("evt_old", EventTypeSubscriptionUpdated, domain.EventSourceStripe, []byte(`{}`), f.clock.Now().Add(-10*time.Minute))
	fresh := domain.NewWebhookEvent("evt_fresh", EventTypeSubscriptionUpdated, domain.EventSourceStripe, []byte(`{}`), f.clock.Now())
	for _, ev := range []*domain.WebhookEvent{old, fresh} {
		inserted, err := f.eventRepo.Insert(ctx, ev)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	f.handler.EXPECT().Handle(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	n, err := f.rec.RunWebhookPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.eventRepo.GetByExternalID(ctx, "evt_old")
	assert.Equal(t, domain.EventStatusProcessed, stored.Status)
	stored, _ = f.eventRepo.GetByExternalID(ctx, "evt_fresh")
	assert.Equal(t, domain.EventStatusReceived, stored.Status, "fresh events are left to their inline attempt")
}

func TestRunWebhookPass_AbandonedEventsAreNotRetried(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	ev := domain.NewWebhookEvent("evt_1", EventTypeSubscriptionUpdated, domain.EventSourceStripe, []byte(`{}`), f.clock.Now().Add(-10*time.Minute))
	inserted, err := f.eventRepo.Insert(ctx, ev)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, f.eventRepo.Abandon(ctx, ev.ID, "parked by operator"))

	n, err := f.rec.RunWebhookPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReconciler_StartStop(t *testing.T) {
	f := newReconcilerFixture(t)
	report := f.queueReport(t, "cus_1")
	f.clock.Advance(10 * time.Minute)

	f.client.EXPECT().ReportUsage(gomock.Any(), "cus_1", gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	f.rec.Start(ctx)

	require.Eventually(t, func() bool {
		stored, _ := f.reportRepo.GetByID(context.Background(), report.ID)
		return stored.SucceededAt != nil
	}, 2*time.Second, 10*time.Millisecond, "scheduled pass should deliver the due report")

	cancel()
	f.rec.Stop()
}
