package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventStatus represents the processing state of an inbound webhook event.
type EventStatus string

const (
	// EventStatusReceived means the event is stored and waiting for processing
	// (either never attempted, or released after a retryable failure).
	EventStatusReceived EventStatus = "RECEIVED"
	// EventStatusProcessing means a worker has claimed the event and an attempt
	// is in flight.
	EventStatusProcessing EventStatus = "PROCESSING"
	// EventStatusProcessed is terminal success.
	EventStatusProcessed EventStatus = "PROCESSED"
	// EventStatusAbandoned is terminal failure: the event will never be retried
	// automatically and must be resolved by an operator.
	EventStatusAbandoned EventStatus = "ABANDONED"
)

// Event sources. Only Stripe today; the column exists so a second processor
// can be added without a migration.
const (
	EventSourceStripe = "stripe"
)

// WebhookEvent is an inbound notification from the external payment processor,
// stored verbatim for replay and audit. ExternalEventID is the deduplication
// key: the processor delivers at-least-once, so the same external id may
// arrive any number of times but only one row ever exists for it.
type WebhookEvent struct {
	ID                 uuid.UUID       `json:"id"`
	ExternalEventID    string          `json:"external_event_id"`
	EventType          string          `json:"event_type"`
	Source             string          `json:"source"`
	Status             EventStatus     `json:"status"`
	ProcessingAttempts int             `json:"processing_attempts"`
	Payload            json.RawMessage `json:"payload"`
	ErrorMessage       *string         `json:"error_message"`
	CreatedAt          time.Time       `json:"created_at"`
	ProcessedAt        *time.Time      `json:"processed_at"`
}

// NewWebhookEvent builds a fresh event in the RECEIVED state.
func NewWebhookEvent(externalEventID, eventType, source string, payload json.RawMessage, now time.Time) *WebhookEvent {
	return &WebhookEvent{
		ID:              uuid.New(),
		ExternalEventID: externalEventID,
		EventType:       eventType,
		Source:          source,
		Status:          EventStatusReceived,
		Payload:         payload,
		CreatedAt:       now,
	}
}

// Processed reports terminal success.
func (e *WebhookEvent) Processed() bool {
	return e.Status == EventStatusProcessed
}

// Unresolved reports whether the event still needs attention: neither
// processed nor abandoned.
func (e *WebhookEvent) Unresolved() bool {
	return e.Status == EventStatusReceived || e.Status == EventStatusProcessing
}
