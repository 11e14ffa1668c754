package handler

import (
	"net/http"
	"strconv"
	"time"

	"billing-event-pipeline/internal/adapter/http/dto"
	"billing-event-pipeline/internal/core/domain"
	"billing-event-pipeline/internal/core/ports"
	"billing-event-pipeline/pkg/apperror"
	"billing-event-pipeline/pkg/response"

	"github.com/gin-gonic/gin"
)

const defaultOpsLimit = 50

// OpsHandler exposes operator introspection over the two retry queues.
type OpsHandler struct {
	ingestSvc        ports.IngestionService
	usageSvc         ports.UsageService
	defaultThreshold time.Duration
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(ingestSvc ports.IngestionService, usageSvc ports.UsageService, defaultThreshold time.Duration) *OpsHandler {
	return &OpsHandler{
		ingestSvc:        ingestSvc,
		usageSvc:         usageSvc,
		defaultThreshold: defaultThreshold,
	}
}

// UnresolvedEvents handles GET /api/v1/ops/webhook-events/unresolved.
// Query params: older_than (Go duration, default from config), limit.
func (h *OpsHandler) UnresolvedEvents(c *gin.Context) {
	olderThan := h.defaultThreshold
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			response.Error(c, apperror.Validation("older_than must be a non-negative duration"))
			return
		}
		olderThan = d
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	events, total, err := h.ingestSvc.UnresolvedEvents(c.Request.Context(), olderThan, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]dto.WebhookEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView(ev))
	}
	response.OK(c, dto.UnresolvedEventsResponse{Total: total, Events: views})
}

// ExhaustedReports handles GET /api/v1/ops/usage-reports/exhausted.
func (h *OpsHandler) ExhaustedReports(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	reports, total, err := h.usageSvc.ExhaustedReports(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]dto.UsageReportView, 0, len(reports))
	for _, rep := range reports {
		views = append(views, reportView(rep))
	}
	response.OK(c, dto.ExhaustedReportsResponse{Total: total, Reports: views})
}

func parseLimit(c *gin.Context) (int, bool) {
	limit := defaultOpsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			response.Error(c, apperror.Validation("limit must be between 1 and 1000"))
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func eventView(ev domain.WebhookEvent) dto.WebhookEventView {
	return dto.WebhookEventView{
		ID:                 ev.ID.String(),
		ExternalEventID:    ev.ExternalEventID,
		EventType:          ev.EventType,
		Source:             ev.Source,
		Status:             string(ev.Status),
		ProcessingAttempts: ev.ProcessingAttempts,
		ErrorMessage:       ev.ErrorMessage,
		CreatedAt:          ev.CreatedAt,
		ProcessedAt:        ev.ProcessedAt,
	}
}

func reportView(rep domain.FailedUsageReport) dto.UsageReportView {
	return dto.UsageReportView{
		ID:          rep.ID.String(),
		UserID:      rep.UserID.String(),
		CustomerID:  rep.CustomerID,
		Quantity:    rep.Quantity,
		Timestamp:   rep.Timestamp,
		RetryCount:  rep.RetryCount,
		MaxRetries:  rep.MaxRetries,
		NextRetryAt: rep.NextRetryAt,
		LastError:   rep.LastError,
		SucceededAt: rep.SucceededAt,
		CreatedAt:   rep.CreatedAt,
	}
}

// HealthCheck handles GET /health, pinging each dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
