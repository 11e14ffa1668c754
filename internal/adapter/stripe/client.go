package stripe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"billing-event-pipeline/config"
	"billing-event-pipeline/pkg/apperror"

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements ports.UsageReportClient against the Stripe billing meter
// events API. Delivery errors are classified into transient (worth retrying)
// and permanent (never retry) so callers can route them to the retry queue or
// reject them outright.
type Client struct {
	httpClient HTTPClient
	apiKey     string
	baseURL    string
	eventName  string
	log        zerolog.Logger
}

// NewClient creates a Stripe usage-report client.
func NewClient(httpClient HTTPClient, cfg config.StripeConfig, log zerolog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		eventName:  cfg.EventName,
		log:        log,
	}
}

// ReportUsage posts one metered-usage event. A nil return means Stripe
// accepted the event.
func (c *Client) ReportUsage(ctx context.Context, customerID string, quantity int64, occurredAt time.Time) error {
	form := url.Values{}
	form.Set("event_name", c.eventName)
	form.Set("timestamp", strconv.FormatInt(occurredAt.Unix(), 10))
	form.Set("payload[stripe_customer_id]", customerID)
	form.Set("payload[value]", strconv.FormatInt(quantity, 10))

	endpoint := c.baseURL + "/v1/billing/meter_events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return apperror.ErrPermanentRejection(fmt.Errorf("build usage request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failure: the request may not have reached Stripe.
		return apperror.ErrTransientDelivery(fmt.Errorf("post usage event: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("stripe returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	if retryableStatus(resp.StatusCode) {
		return apperror.ErrTransientDelivery(err)
	}

	c.log.Warn().
		Int("status", resp.StatusCode).
		Str("customer_id", customerID).
		Msg("Stripe rejected usage event")
	return apperror.ErrPermanentRejection(err)
}

// retryableStatus reports whether a retry could plausibly succeed: rate
// limiting, request timeout, and server-side failures. Other 4xx responses
// mean the request itself is wrong and will never be accepted.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= 500
}
