package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-integrity-api/internal/dto"
	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/internal/service"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
	"github.com/noah-isme/attendance-integrity-api/pkg/response"
)

type checkinService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.AttendanceRecord, *models.Pagination, error)
}

// CheckinHandler exposes the check-in submission and record listing endpoints.
type CheckinHandler struct {
	service checkinService
}

// NewCheckinHandler constructs the handler.
func NewCheckinHandler(service checkinService) *CheckinHandler {
	return &CheckinHandler{service: service}
}

// Submit godoc
// @Summary Submit an attendance check-in
// @Tags Checkins
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body dto.CheckinRequest true "Check-in payload"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/checkins [post]
func (h *CheckinHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-in payload"))
		return
	}

	result, err := h.service.Submit(c.Request.Context(), service.SubmitRequest{
		SessionID:         c.Param("id"),
		StudentID:         claims.UserID,
		Location:          req.Location,
		DeviceFingerprint: req.DeviceFingerprint,
		PhotoRef:          req.PhotoRef,
		ClientTimestamp:   req.ClientTimestamp,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Records godoc
// @Summary List attendance records for a session
// @Tags Checkins
// @Produce json
// @Param id path string true "Session ID"
// @Param studentId query string false "Student ID"
// @Param outcome query string false "Outcome (PRESENT/LATE/REJECTED)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/records [get]
func (h *CheckinHandler) Records(c *gin.Context) {
	filter := models.RecordFilter{
		SessionID: c.Param("id"),
		StudentID: c.Query("studentId"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "limit", 50),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	if raw := c.Query("outcome"); raw != "" {
		outcome := models.AttendanceOutcome(raw)
		filter.Outcome = &outcome
	}

	rows, pagination, err := h.service.ListRecords(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}
