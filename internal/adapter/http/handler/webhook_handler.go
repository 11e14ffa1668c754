package handler

import (
	"encoding/json"
	"io"

	"billing-event-pipeline/internal/adapter/http/dto"
	"billing-event-pipeline/internal/core/domain"
	"billing-event-pipeline/internal/core/ports"
	"billing-event-pipeline/pkg/apperror"
	"billing-event-pipeline/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookHandler receives processor webhook deliveries.
type WebhookHandler struct {
	ingestSvc ports.IngestionService
	log       zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestSvc ports.IngestionService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{ingestSvc: ingestSvc, log: log}
}

// Receive handles POST /api/v1/webhooks/stripe.
// A 2xx tells the processor to stop redelivering, so it is returned exactly
// when the event is durably stored (or already was); processing failures are
// retried internally and still acknowledged. Storage failures return 5xx so
// the processor delivers again.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	var env dto.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		response.Error(c, apperror.Validation("request body is not valid JSON"))
		return
	}
	if env.ID == "" || env.Type == "" {
		response.Error(c, apperror.Validation("event id and type are required"))
		return
	}

	res, err := h.ingestSvc.Ingest(c.Request.Context(), ports.IngestRequest{
		ExternalEventID: env.ID,
		EventType:       env.Type,
		Source:          domain.EventSourceStripe,
		Payload:         body,
	})
	if err != nil {
		h.log.Error().Err(err).Str("external_event_id", env.ID).Msg("webhook ingestion failed")
		response.Error(c, err)
		return
	}

	response.OK(c, dto.WebhookAckResponse{
		EventID:         res.Event.ID.String(),
		ExternalEventID: res.Event.ExternalEventID,
		Duplicate:       !res.New,
		Outcome:         string(res.Outcome),
	})
}
