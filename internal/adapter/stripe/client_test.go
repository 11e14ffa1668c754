package stripe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"billing-event-pipeline/config"
	"billing-event-pipeline/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func newTestClient(doFunc func(req *http.Request) (*http.Response, error)) *Client {
	cfg := config.StripeConfig{
		APIKey:    "sk_test_123",
		BaseURL:   "https://api.stripe.test",
		EventName: "api_usage",
	}
	return NewClient(&mockHTTPClient{doFunc: doFunc}, cfg, zerolog.New(io.Discard))
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestClient_ReportUsage_Success(t *testing.T) {
	var captured *http.Request
	var capturedBody string
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		captured = req
		b, _ := io.ReadAll(req.Body)
		capturedBody = string(b)
		return respond(200, `{"object":"billing.meter_event"}`), nil
	})

	occurredAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := client.ReportUsage(context.Background(), "cus_123", 42, occurredAt)
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "https://api.stripe.test/v1/billing/meter_events", captured.URL.String())
	assert.Equal(t, "Bearer sk_test_123", captured.Header.Get("Authorization"))
	assert.Contains(t, capturedBody, "event_name=api_usage")
	assert.Contains(t, capturedBody, "cus_123")
	assert.Contains(t, capturedBody, "value%5D=42")
}

func TestClient_ReportUsage_NetworkErrorIsTransient(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	err := client.ReportUsage(context.Background(), "cus_123", 1, time.Now())
	require.Error(t, err)
	assert.True(t, apperror.IsTransient(err))
	assert.False(t, apperror.IsPermanent(err))
}

func TestClient_ReportUsage_ServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{500, 502, 503, 408, 429} {
		client := newTestClient(func(req *http.Request) (*http.Response, error) {
			return respond(status, "upstream sad"), nil
		})

		err := client.ReportUsage(context.Background(), "cus_123", 1, time.Now())
		require.Error(t, err, "status %d", status)
		assert.True(t, apperror.IsTransient(err), "status %d should be transient", status)
	}
}

func TestClient_ReportUsage_ClientErrorIsPermanent(t *testing.T) {
	for _, status := range []int{400, 401, 404, 422} {
		client := newTestClient(func(req *http.Request) (*http.Response, error) {
			return respond(status, `{"error":{"message":"no such customer"}}`), nil
		})

		err := client.ReportUsage(context.Background(), "cus_nope", 1, time.Now())
		require.Error(t, err, "status %d", status)
		assert.True(t, apperror.IsPermanent(err), "status %d should be permanent", status)
		assert.False(t, apperror.IsTransient(err))
	}
}
