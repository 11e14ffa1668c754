package service

import (
	"context"
	"sync"
	"time"

	"billing-event-pipeline/config"
	"billing-event-pipeline/internal/core/ports"

	"github.com/rs/zerolog"
)

// Lock names, one per pass so the passes never contend with each other.
const (
	lockUsageRetry    = "usage-retry"
	lockWebhookReplay = "webhook-replay"
)

// replayGrace keeps the webhook pass off events so fresh that their inline
// processing attempt may still be running.
const replayGrace = time.Minute

// Reconciler periodically re-drives the two retry queues: due usage reports
// and unprocessed webhook events. Passes are guarded by a distributed lock,
// batched, and fanned out over a bounded worker pool with per-item timeouts.
// A pass failure is logged and the next tick tries again; the loops never stop
// on error.
type Reconciler struct {
	ingestSvc  ports.IngestionService
	usageSvc   ports.UsageService
	eventRepo  ports.WebhookEventRepository
	reportRepo ports.UsageReportRepository
	lock       ports.SchedulerLock
	clock      ports.Clock
	cfg        config.SchedulerConfig
	log        zerolog.Logger

	wg sync.WaitGroup
}

// NewReconciler creates the reconciliation scheduler.
func NewReconciler(
	ingestSvc ports.IngestionService,
	usageSvc ports.UsageService,
	eventRepo ports.WebhookEventRepository,
	reportRepo ports.UsageReportRepository,
	lock ports.SchedulerLock,
	clock ports.Clock,
	cfg config.SchedulerConfig,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		ingestSvc:  ingestSvc,
		usageSvc:   usageSvc,
		eventRepo:  eventRepo,
		reportRepo: reportRepo,
		lock:       lock,
		clock:      clock,
		cfg:        cfg,
		log:        log,
	}
}

// Start launches both pass loops. They stop when ctx is canceled; Stop waits
// for in-flight passes to drain.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(2)
	go r.loop(ctx, "usage-retry", r.cfg.UsageInterval, r.RunUsagePass)
	go r.loop(ctx, "webhook-replay", r.cfg.WebhookInterval, r.RunWebhookPass)

	r.log.Info().
		Dur("usage_interval", r.cfg.UsageInterval).
		Dur("webhook_interval", r.cfg.WebhookInterval).
		Int("workers", r.cfg.Workers).
		Int("batch_size", r.cfg.BatchSize).
		Msg("reconciler started")
}

// Stop blocks until both loops have exited. Call after canceling the context
// passed to Start.
func (r *Reconciler) Stop() {
	r.wg.Wait()
	r.log.Info().Msg("reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context, name string, interval time.Duration, pass func(context.Context) (int, error)) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pass(ctx)
			if err != nil {
				r.log.Error().Err(err).Str("pass", name).Msg("reconciliation pass failed")
				continue
			}
			if n > 0 {
				r.log.Info().Str("pass", name).Int("items", n).Msg("reconciliation pass complete")
			}
		}
	}
}

// RunUsagePass retries one batch of due usage reports. Returns the number of
// attempts made.
func (r *Reconciler) RunUsagePass(ctx context.Context) (int, error) {
	release, ok := r.acquire(ctx, lockUsageRetry)
	if !ok {
		return 0, nil
	}
	defer release()

	reports, err := r.reportRepo.ListDue(ctx, r.clock.Now(), r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	r.forEach(ctx, len(reports), func(ictx context.Context, i int) {
		report := reports[i]
		if err := r.usageSvc.RetryReport(ictx, &report); err != nil {
			// Expected for still-failing deliveries; the backoff schedule was
			// already persisted by RetryReport.
			r.log.Debug().Err(err).Str("report_id", report.ID.String()).Msg("usage retry attempt failed")
		}
	})
	return len(reports), nil
}

// RunWebhookPass re-drives one batch of unprocessed webhook events. Returns
// the number of attempts made.
func (r *Reconciler) RunWebhookPass(ctx context.Context) (int, error) {
	release, ok := r.acquire(ctx, lockWebhookReplay)
	if !ok {
		return 0, nil
	}
	defer release()

	before := r.clock.Now().Add(-replayGrace)
	events, err := r.eventRepo.ListUnprocessed(ctx, before, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	r.forEach(ctx, len(events), func(ictx context.Context, i int) {
		event := events[i]
		outcome, err := r.ingestSvc.ProcessEvent(ictx, &event)
		if err != nil {
			r.log.Debug().Err(err).
				Str("external_event_id", event.ExternalEventID).
				Str("outcome", string(outcome)).
				Msg("webhook replay attempt failed")
		}
	})
	return len(events), nil
}

// acquire takes the named pass lock. When the lock service itself errors the
// pass proceeds without it: a duplicate run is safe (every item transition is
// guarded in storage) while a skipped run delays retries.
func (r *Reconciler) acquire(ctx context.Context, name string) (func(), bool) {
	release, ok, err := r.lock.Acquire(ctx, name, r.cfg.LockTTL)
	if err != nil {
		r.log.Warn().Err(err).Str("lock", name).Msg("scheduler lock unavailable, proceeding unlocked")
		return func() {}, true
	}
	if !ok {
		r.log.Debug().Str("lock", name).Msg("pass skipped, lock held elsewhere")
		return nil, false
	}
	return release, true
}

// forEach fans n items out over the bounded worker pool, each with its own
// timeout so one stuck item cannot stall the pass.
func (r *Reconciler) forEach(ctx context.Context, n int, work func(ctx context.Context, i int)) {
	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			ictx, cancel := context.WithTimeout(ctx, r.cfg.ItemTimeout)
			defer cancel()
			work(ictx, i)
		}(i)
	}
	wg.Wait()
}
