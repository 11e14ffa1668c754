package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-event-pipeline/internal/core/domain"
	"billing-event-pipeline/internal/core/ports"
	"billing-event-pipeline/pkg/apperror"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const (
	// seenEventTTL bounds the fast-path dedup cache. The processor redelivers
	// within days at most; after that the database check alone carries dedup.
	seenEventTTL = 72 * time.Hour

	// txAttempts bounds local retries on serialization failures before the
	// event is released back to RECEIVED for a later pass.
	txAttempts = 3
)

// ingestionService implements ports.IngestionService.
type ingestionService struct {
	eventRepo   ports.WebhookEventRepository
	seenCache   ports.SeenEventCache
	registry    ports.HandlerRegistry
	transactor  ports.DBTransactor
	clock       ports.Clock
	maxAttempts int // processing attempts before abandoning; 0 means unlimited
	log         zerolog.Logger
}

// NewIngestionService creates the webhook ingestion service.
func NewIngestionService(
	eventRepo ports.WebhookEventRepository,
	seenCache ports.SeenEventCache,
	registry ports.HandlerRegistry,
	transactor ports.DBTransactor,
	clock ports.Clock,
	maxAttempts int,
	log zerolog.Logger,
) ports.IngestionService {
	return &ingestionService{
		eventRepo:   eventRepo,
		seenCache:   seenCache,
		registry:    registry,
		transactor:  transactor,
		clock:       clock,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Ingest stores the delivery exactly once and runs a processing attempt
// inline. Duplicates of resolved events are acknowledged without side
// effects; duplicates of unresolved events trigger another attempt.
func (s *ingestionService) Ingest(ctx context.Context, req ports.IngestRequest) (*ports.IngestResult, error) {
	now := s.clock.Now()

	// Fast path: a cache hit skips the insert. Advisory only; errors and
	// misses fall through to the authoritative insert below.
	if seen, err := s.seenCache.Seen(ctx, req.ExternalEventID); err != nil {
		s.log.Debug().Err(err).Msg("seen-event cache unavailable, falling through")
	} else if seen {
		if existing, err := s.eventRepo.GetByExternalID(ctx, req.ExternalEventID); err == nil && existing != nil {
			return s.resolveDuplicate(ctx, existing)
		}
	}

	event := domain.NewWebhookEvent(req.ExternalEventID, req.EventType, req.Source, req.Payload, now)
	inserted, err := s.eventRepo.Insert(ctx, event)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	if !inserted {
		existing, err := s.eventRepo.GetByExternalID(ctx, req.ExternalEventID)
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		if existing == nil {
			return nil, apperror.InternalError(fmt.Errorf("event %s: insert conflicted but row not found", req.ExternalEventID))
		}
		return s.resolveDuplicate(ctx, existing)
	}

	if err := s.seenCache.MarkSeen(ctx, req.ExternalEventID, seenEventTTL); err != nil {
		s.log.Debug().Err(err).Msg("seen-event cache write failed")
	}

	outcome, err := s.ProcessEvent(ctx, event)
	if err != nil {
		// The event is durably stored; processing failures are retried by the
		// reconciler, not surfaced to the sender.
		s.log.Error().Err(err).
			Str("external_event_id", req.ExternalEventID).
			Msg("inline processing attempt failed")
	}
	return &ports.IngestResult{Event: event, New: true, Outcome: outcome}, nil
}

// resolveDuplicate decides what a repeated delivery means given the stored
// event's state. Resolved events are acknowledged as-is; an unresolved
// RECEIVED event gets another processing attempt.
func (s *ingestionService) resolveDuplicate(ctx context.Context, existing *domain.WebhookEvent) (*ports.IngestResult, error) {
	switch existing.Status {
	case domain.EventStatusProcessed:
		return &ports.IngestResult{Event: existing, New: false, Outcome: ports.OutcomeProcessed}, nil
	case domain.EventStatusAbandoned:
		return &ports.IngestResult{Event: existing, New: false, Outcome: ports.OutcomeAbandoned}, nil
	case domain.EventStatusProcessing:
		return &ports.IngestResult{Event: existing, New: false, Outcome: ports.OutcomeDeferred}, nil
	}

	outcome, err := s.ProcessEvent(ctx, existing)
	if err != nil {
		s.log.Error().Err(err).
			Str("external_event_id", existing.ExternalEventID).
			Msg("reprocessing attempt on duplicate delivery failed")
	}
	return &ports.IngestResult{Event: existing, New: false, Outcome: outcome}, nil
}

// ProcessEvent runs one processing attempt: claim, apply the handler side
// effect and the processed mark in a single transaction, and settle the
// event's state according to how that went.
func (s *ingestionService) ProcessEvent(ctx context.Context, event *domain.WebhookEvent) (ports.ProcessOutcome, error) {
	handler, ok := s.registry.Resolve(event.EventType)
	if !ok {
		// No handler will ever appear mid-flight; park the event for operators.
		appErr := apperror.ErrUnknownEventType(event.EventType)
		if err := s.eventRepo.Abandon(ctx, event.ID, appErr.Message); err != nil {
			return ports.OutcomeDeferred, apperror.InternalError(err)
		}
		event.Status = domain.EventStatusAbandoned
		return ports.OutcomeAbandoned, nil
	}

	claimed, err := s.eventRepo.Claim(ctx, event.ID)
	if err != nil {
		return ports.OutcomeDeferred, apperror.InternalError(err)
	}
	if !claimed {
		return ports.OutcomeDeferred, nil
	}
	event.Status = domain.EventStatusProcessing

	var attemptErr error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		attemptErr = s.runHandler(ctx, handler, event)
		if attemptErr == nil {
			event.Status = domain.EventStatusProcessed
			return ports.OutcomeProcessed, nil
		}
		if !isSerializationFailure(attemptErr) {
			break
		}
		s.log.Debug().Err(attemptErr).
			Int("attempt", attempt).
			Str("external_event_id", event.ExternalEventID).
			Msg("serialization failure, retrying transaction")
	}

	return s.settleFailure(ctx, event, attemptErr)
}

// runHandler executes the side effect and the processed mark in one
// transaction so they commit or roll back together.
func (s *ingestionService) runHandler(ctx context.Context, handler ports.EventHandler, event *domain.WebhookEvent) error {
	tx, err := s.transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := handler.Handle(ctx, tx, event); err != nil {
		return err
	}
	if err := s.eventRepo.MarkProcessed(ctx, tx, event.ID, s.clock.Now()); err != nil {
		return apperror.InternalError(err)
	}
	return tx.Commit(ctx)
}

// settleFailure routes a failed attempt: permanent errors and exhausted
// attempt budgets abandon the event, everything else releases it for the
// reconciler to retry.
func (s *ingestionService) settleFailure(ctx context.Context, event *domain.WebhookEvent, attemptErr error) (ports.ProcessOutcome, error) {
	msg := domain.TruncateError(attemptErr.Error())

	if apperror.IsPermanent(attemptErr) {
		if err := s.eventRepo.Abandon(ctx, event.ID, msg); err != nil {
			return ports.OutcomeDeferred, apperror.InternalError(err)
		}
		event.Status = domain.EventStatusAbandoned
		s.log.Warn().
			Str("external_event_id", event.ExternalEventID).
			Str("event_type", event.EventType).
			Str("error", msg).
			Msg("webhook event abandoned: permanent failure")
		return ports.OutcomeAbandoned, attemptErr
	}

	if s.maxAttempts > 0 && event.ProcessingAttempts+1 >= s.maxAttempts {
		if err := s.eventRepo.Abandon(ctx, event.ID, msg); err != nil {
			return ports.OutcomeDeferred, apperror.InternalError(err)
		}
		event.Status = domain.EventStatusAbandoned
		s.log.Warn().
			Str("external_event_id", event.ExternalEventID).
			Int("attempts", event.ProcessingAttempts+1).
			Msg("webhook event abandoned: attempt budget exhausted")
		return ports.OutcomeAbandoned, attemptErr
	}

	if err := s.eventRepo.Release(ctx, event.ID, msg); err != nil {
		return ports.OutcomeDeferred, apperror.InternalError(err)
	}
	event.Status = domain.EventStatusReceived
	event.ProcessingAttempts++
	return ports.OutcomeRetrying, attemptErr
}

// UnresolvedEvents lists events still RECEIVED or PROCESSING after the age
// threshold, with the total count for the same cutoff.
func (s *ingestionService) UnresolvedEvents(ctx context.Context, olderThan time.Duration, limit int) ([]domain.WebhookEvent, int64, error) {
	before := s.clock.Now().Add(-olderThan)
	events, err := s.eventRepo.ListUnresolved(ctx, before, limit)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	count, err := s.eventRepo.CountUnresolved(ctx, before)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return events, count, nil
}

// isSerializationFailure reports PostgreSQL serialization or deadlock errors
// worth retrying inside the same processing attempt.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
