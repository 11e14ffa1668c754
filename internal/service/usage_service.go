package service

import (
	"context"

	"billing-event-pipeline/internal/core/domain"
	"billing-event-pipeline/internal/core/ports"
	"billing-event-pipeline/pkg/apperror"

	"github.com/rs/zerolog"
)

// usageService implements ports.UsageService.
type usageService struct {
	reportRepo ports.UsageReportRepository
	client     ports.UsageReportClient
	clock      ports.Clock
	log        zerolog.Logger
}

// NewUsageService creates the usage submission service.
func NewUsageService(
	reportRepo ports.UsageReportRepository,
	client ports.UsageReportClient,
	clock ports.Clock,
	log zerolog.Logger,
) ports.UsageService {
	return &usageService{
		reportRepo: reportRepo,
		client:     client,
		clock:      clock,
		log:        log,
	}
}

// SubmitUsage attempts direct delivery. Transient failures enqueue the report
// for retry and succeed from the caller's point of view; permanent rejections
// propagate because no retry will ever help.
func (s *usageService) SubmitUsage(ctx context.Context, sub ports.UsageSubmission) (*ports.UsageResult, error) {
	err := s.client.ReportUsage(ctx, sub.CustomerID, sub.Quantity, sub.OccurredAt)
	if err == nil {
		return &ports.UsageResult{Delivered: true}, nil
	}

	if apperror.IsPermanent(err) {
		s.log.Warn().Err(err).
			Str("customer_id", sub.CustomerID).
			Msg("usage report permanently rejected")
		return nil, err
	}

	now := s.clock.Now()
	report := domain.NewFailedUsageReport(sub.UserID, sub.CustomerID, sub.Quantity, sub.OccurredAt, err.Error(), now)
	if createErr := s.reportRepo.Create(ctx, report); createErr != nil {
		// Could not queue either; the submitter has to decide what to do.
		return nil, apperror.InternalError(createErr)
	}

	s.log.Info().
		Str("report_id", report.ID.String()).
		Str("customer_id", sub.CustomerID).
		Time("next_retry_at", *report.NextRetryAt).
		Msg("usage report queued for retry")
	return &ports.UsageResult{Delivered: false, Report: report}, nil
}

// RetryReport runs one queued delivery attempt and persists the outcome.
// Success is sticky; failure recomputes the backoff schedule.
func (s *usageService) RetryReport(ctx context.Context, report *domain.FailedUsageReport) error {
	err := s.client.ReportUsage(ctx, report.CustomerID, report.Quantity, report.Timestamp)
	now := s.clock.Now()

	if err == nil {
		report.MarkSucceeded(now)
		if markErr := s.reportRepo.MarkSuccess(ctx, report.ID, now); markErr != nil {
			return apperror.InternalError(markErr)
		}
		s.log.Info().
			Str("report_id", report.ID.String()).
			Int("retry_count", report.RetryCount).
			Msg("queued usage report delivered")
		return nil
	}

	report.RegisterFailure(now, err.Error())
	if markErr := s.reportRepo.MarkFailure(ctx, report); markErr != nil {
		return apperror.InternalError(markErr)
	}

	logEvent := s.log.Info()
	if report.Exhausted() {
		logEvent = s.log.Warn()
	}
	logEvent.
		Str("report_id", report.ID.String()).
		Int("retry_count", report.RetryCount).
		Bool("exhausted", report.Exhausted()).
		Msg("queued usage report retry failed")
	return err
}

// ExhaustedReports lists unresolved reports past their retry budget together
// with the total count.
func (s *usageService) ExhaustedReports(ctx context.Context, limit int) ([]domain.FailedUsageReport, int64, error) {
	reports, err := s.reportRepo.ListExhausted(ctx, limit)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	count, err := s.reportRepo.CountExhausted(ctx)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return reports, count, nil
}
