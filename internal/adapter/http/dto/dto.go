package dto

import "time"

// WebhookEnvelope is the minimal slice of an inbound processor event the
// pipeline needs to route it. The full raw body is stored verbatim; this
// struct only extracts the dedup key and the type.
type WebhookEnvelope struct {
	ID   string `json:"id" binding:"required"`
	Type string `json:"type" binding:"required"`
}

// WebhookAckResponse acknowledges an inbound delivery.
type WebhookAckResponse struct {
	EventID         string `json:"event_id"`
	ExternalEventID string `json:"external_event_id"`
	Duplicate       bool   `json:"duplicate"`
	Outcome         string `json:"outcome"`
}

// UsageRequest submits one metered-usage report.
type UsageRequest struct {
	UserID     string    `json:"user_id" binding:"required,uuid"`
	CustomerID string    `json:"customer_id" binding:"required"`
	Quantity   int64     `json:"quantity" binding:"required,gt=0"`
	OccurredAt time.Time `json:"occurred_at" binding:"required"`
}

// UsageResponse reports how a usage submission ended: delivered inline, or
// queued with a retry schedule.
type UsageResponse struct {
	Delivered   bool       `json:"delivered"`
	ReportID    string     `json:"report_id,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// WebhookEventView is the operator-facing projection of a stored event.
type WebhookEventView struct {
	ID                 string     `json:"id"`
	ExternalEventID    string     `json:"external_event_id"`
	EventType          string     `json:"event_type"`
	Source             string     `json:"source"`
	Status             string     `json:"status"`
	ProcessingAttempts int        `json:"processing_attempts"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
}

// UnresolvedEventsResponse lists stale unresolved events for operators.
type UnresolvedEventsResponse struct {
	Total  int64              `json:"total"`
	Events []WebhookEventView `json:"events"`
}

// UsageReportView is the operator-facing projection of a queued report.
type UsageReportView struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	CustomerID  string     `json:"customer_id"`
	Quantity    int64      `json:"quantity"`
	Timestamp   time.Time  `json:"timestamp"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	SucceededAt *time.Time `json:"succeeded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ExhaustedReportsResponse lists reports past their retry budget.
type ExhaustedReportsResponse struct {
	Total   int64             `json:"total"`
	Reports []UsageReportView `json:"reports"`
}
