package handler

import (
	"billing-event-pipeline/internal/adapter/http/dto"
	"billing-event-pipeline/internal/core/ports"
	"billing-event-pipeline/pkg/apperror"
	"billing-event-pipeline/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UsageHandler accepts metered-usage submissions.
type UsageHandler struct {
	usageSvc ports.UsageService
	log      zerolog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usageSvc ports.UsageService, log zerolog.Logger) *UsageHandler {
	return &UsageHandler{usageSvc: usageSvc, log: log}
}

// Submit handles POST /api/v1/usage.
// 200 means delivered to the processor; 202 means the delivery failed
// transiently and the report was queued for retry. Permanent rejections
// surface as 4xx because retrying cannot fix them.
func (h *UsageHandler) Submit(c *gin.Context) {
	var req dto.UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("user_id must be a UUID"))
		return
	}

	res, err := h.usageSvc.SubmitUsage(c.Request.Context(), ports.UsageSubmission{
		UserID:     userID,
		CustomerID: req.CustomerID,
		Quantity:   req.Quantity,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if res.Delivered {
		response.OK(c, dto.UsageResponse{Delivered: true})
		return
	}
	response.Accepted(c, dto.UsageResponse{
		Delivered:   false,
		ReportID:    res.Report.ID.String(),
		NextRetryAt: res.Report.NextRetryAt,
	})
}
