package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"billing-event-pipeline/internal/core/domain"
	"billing-event-pipeline/internal/core/ports"
	"billing-event-pipeline/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Handled event types, as named by the payment processor.
const (
	EventTypeSubscriptionUpdated = "customer.subscription.updated"
	EventTypeSubscriptionDeleted = "customer.subscription.deleted"
	EventTypePaymentFailed       = "invoice.payment_failed"
)

// subscriptionEventPayload is the slice of the processor's event body the
// subscription handlers care about.
type subscriptionEventPayload struct {
	Data struct {
		Object struct {
			Customer string `json:"customer"`
			Status   string `json:"status"`
			Plan     struct {
				ID string `json:"id"`
			} `json:"plan"`
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"object"`
	} `json:"data"`
}

type paymentFailedPayload struct {
	Data struct {
		Object struct {
			Customer       string `json:"customer"`
			FailureMessage string `json:"failure_message"`
			Created        int64  `json:"created"`
		} `json:"object"`
	} `json:"data"`
}

// SubscriptionUpdatedHandler mirrors subscription lifecycle events into the
// local subscriptions table. The upsert keyed on customer_id makes replays
// converge, satisfying the idempotency contract of ports.EventHandler.
type SubscriptionUpdatedHandler struct {
	store ports.SubscriptionStore
	clock ports.Clock
}

// NewSubscriptionUpdatedHandler creates the handler for subscription
// lifecycle events.
func NewSubscriptionUpdatedHandler(store ports.SubscriptionStore, clock ports.Clock) *SubscriptionUpdatedHandler {
	return &SubscriptionUpdatedHandler{store: store, clock: clock}
}

func (h *SubscriptionUpdatedHandler) Handle(ctx context.Context, tx pgx.Tx, event *domain.WebhookEvent) error {
	var payload subscriptionEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return apperror.ErrMalformedPayload(err)
	}
	obj := payload.Data.Object
	if obj.Customer == "" {
		return apperror.ErrMalformedPayload(fmt.Errorf("event %s: missing customer id", event.ExternalEventID))
	}

	status, err := subscriptionStatus(obj.Status, event.EventType)
	if err != nil {
		return err
	}

	var periodEnd *time.Time
	if obj.CurrentPeriodEnd > 0 {
		t := time.Unix(obj.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	sub := &domain.Subscription{
		CustomerID:       obj.Customer,
		Plan:             obj.Plan.ID,
		Status:           status,
		CurrentPeriodEnd: periodEnd,
		UpdatedAt:        h.clock.Now(),
	}
	return h.store.Upsert(ctx, tx, sub)
}

// subscriptionStatus maps the processor's status strings onto ours. A deleted
// event is always a cancellation regardless of the embedded status field.
func subscriptionStatus(raw, eventType string) (domain.SubscriptionStatus, error) {
	if eventType == EventTypeSubscriptionDeleted {
		return domain.SubscriptionStatusCanceled, nil
	}
	switch raw {
	case "active", "trialing":
		return domain.SubscriptionStatusActive, nil
	case "past_due", "unpaid":
		return domain.SubscriptionStatusPastDue, nil
	case "canceled", "incomplete_expired":
		return domain.SubscriptionStatusCanceled, nil
	}
	return "", apperror.ErrMalformedPayload(fmt.Errorf("unknown subscription status %q", raw))
}

// PaymentFailedHandler records payment failures for dunning. The failure row
// id is derived from the external event id, so a replayed event inserts
// nothing new.
type PaymentFailedHandler struct {
	store ports.SubscriptionStore
	clock ports.Clock
}

// NewPaymentFailedHandler creates the handler for payment failure events.
func NewPaymentFailedHandler(store ports.SubscriptionStore, clock ports.Clock) *PaymentFailedHandler {
	return &PaymentFailedHandler{store: store, clock: clock}
}

func (h *PaymentFailedHandler) Handle(ctx context.Context, tx pgx.Tx, event *domain.WebhookEvent) error {
	var payload paymentFailedPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return apperror.ErrMalformedPayload(err)
	}
	obj := payload.Data.Object
	if obj.Customer == "" {
		return apperror.ErrMalformedPayload(fmt.Errorf("event %s: missing customer id", event.ExternalEventID))
	}

	occurredAt := h.clock.Now()
	if obj.Created > 0 {
		occurredAt = time.Unix(obj.Created, 0).UTC()
	}
	reason := obj.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}

	failure := &domain.PaymentFailure{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(event.ExternalEventID)),
		CustomerID: obj.Customer,
		Reason:     reason,
		OccurredAt: occurredAt,
		CreatedAt:  h.clock.Now(),
	}
	return h.store.RecordPaymentFailure(ctx, tx, failure)
}
