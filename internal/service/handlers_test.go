package service

import (
	"context"
	"testing"

	"billing-event-pipeline/internal/core/domain"
	"billing-event-pipeline/pkg/apperror"
	"billing-event-pipeline/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscriptionEvent(eventType, payload string) *domain.WebhookEvent {
	return domain.NewWebhookEvent("evt_test", eventType, domain.EventSourceStripe, []byte(payload), testStart)
}

func TestSubscriptionUpdatedHandler_UpsertsMirror(t *testing.T) {
	store := newFakeSubscriptionStore()
	h := NewSubscriptionUpdatedHandler(store, clock.NewFake(testStart))

	payload := `{"data":{"object":{"customer":"cus_1","status":"active","plan":{"id":"pro"},"current_period_end":1775001600}}}`

	err := h.Handle(context.Background(), nil, subscriptionEvent(EventTypeSubscriptionUpdated, payload))
	require.NoError(t, err)

	sub, err := store.GetByCustomerID(context.Background(), "cus_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "pro", sub.Plan)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, int64(1775001600), sub.CurrentPeriodEnd.Unix())
}

func TestSubscriptionUpdatedHandler_ReplayConverges(t *testing.T) {
	store := newFakeSubscriptionStore()
	h := NewSubscriptionUpdatedHandler(store, clock.NewFake(testStart))

	payload := `{"data":{"object":{"customer":"cus_1","status":"past_due","plan":{"id":"pro"}}}}`
	ev := subscriptionEvent(EventTypeSubscriptionUpdated, payload)

	require.NoError(t, h.Handle(context.Background(), nil, ev))
	require.NoError(t, h.Handle(context.Background(), nil, ev))

	sub, _ := store.GetByCustomerID(context.Background(), "cus_1")
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
	assert.Len(t, store.subscriptions, 1)
}

func TestSubscriptionUpdatedHandler_DeletedEventCancels(t *testing.T) {
	store := newFakeSubscriptionStore()
	h := NewSubscriptionUpdatedHandler(store, clock.NewFake(testStart))

	payload := `{"data":{"object":{"customer":"cus_1","status":"active","plan":{"id":"pro"}}}}`
	err := h.Handle(context.Background(), nil, subscriptionEvent(EventTypeSubscriptionDeleted, payload))
	require.NoError(t, err)

	sub, _ := store.GetByCustomerID(context.Background(), "cus_1")
	assert.Equal(t, domain.SubscriptionStatusCanceled, sub.Status)
}

func TestSubscriptionUpdatedHandler_MalformedPayload(t *testing.T) {
	store := newFakeSubscriptionStore()
	h := NewSubscriptionUpdatedHandler(store, clock.NewFake(testStart))

	cases := map[string]string{
		"invalid json":     `{"data":`,
		"missing customer": `{"data":{"object":{"status":"active"}}}`,
		"unknown status":   `{"data":{"object":{"customer":"cus_1","status":"quantum"}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			err := h.Handle(context.Background(), nil, subscriptionEvent(EventTypeSubscriptionUpdated, payload))
			require.Error(t, err)
			assert.True(t, apperror.IsPermanent(err), "malformed payloads must never be retried")
		})
	}
}

func TestPaymentFailedHandler_RecordsFailureOnce(t *testing.T) {
	store := newFakeSubscriptionStore()
	h := NewPaymentFailedHandler(store, clock.NewFake(testStart))

	payload := `{"data":{"object":{"customer":"cus_1","failure_message":"card declined","created":1772000000}}}`
	ev := subscriptionEvent(EventTypePaymentFailed, payload)

	require.NoError(t, h.Handle(context.Background(), nil, ev))
	// Replay of the same external event derives the same failure id.
	require.NoError(t, h.Handle(context.Background(), nil, ev))

	require.Len(t, store.failures, 1)
	for _, f := range store.failures {
		assert.Equal(t, "cus_1", f.CustomerID)
		assert.Equal(t, "card declined", f.Reason)
		assert.Equal(t, int64(1772000000), f.OccurredAt.Unix())
	}
}

func TestPaymentFailedHandler_MissingCustomer(t *testing.T) {
	store := newFakeSubscriptionStore()
	h := NewPaymentFailedHandler(store, clock.NewFake(testStart))

	err := h.Handle(context.Background(), nil, subscriptionEvent(EventTypePaymentFailed, `{"data":{"object":{}}}`))
	require.Error(t, err)
	assert.True(t, apperror.IsPermanent(err))
}

func TestRegistry_ResolveAndTypes(t *testing.T) {
	store := newFakeSubscriptionStore()
	fixed := clock.NewFake(testStart)

	reg := NewRegistry()
	reg.Register(EventTypeSubscriptionUpdated, NewSubscriptionUpdatedHandler(store, fixed))
	reg.Register(EventTypeSubscriptionDeleted, NewSubscriptionUpdatedHandler(store, fixed))
	reg.Register(EventTypePaymentFailed, NewPaymentFailedHandler(store, fixed))

	_, ok := reg.Resolve(EventTypePaymentFailed)
	assert.True(t, ok)
	_, ok = reg.Resolve("charge.refunded")
	assert.False(t, ok)

	assert.Equal(t, []string{
		EventTypeSubscriptionDeleted,
		EventTypeSubscriptionUpdated,
		EventTypePaymentFailed,
	}, reg.Types(), "types are sorted")
}
