package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-integrity-api/internal/dto"
	"github.com/noah-isme/attendance-integrity-api/internal/models"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
	"github.com/noah-isme/attendance-integrity-api/pkg/response"
)

type alertService interface {
	Get(ctx context.Context, id string) (*models.FraudAlert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, *models.Pagination, error)
	Transition(ctx context.Context, id string, action models.AlertAction, actor string) (*models.FraudAlert, error)
	AuditTrail(ctx context.Context, alertID string) ([]models.AlertAuditEntry, error)
}

// AlertHandler exposes the fraud alert disposition endpoints.
type AlertHandler struct {
	service alertService
}

// NewAlertHandler constructs the handler.
func NewAlertHandler(service alertService) *AlertHandler {
	return &AlertHandler{service: service}
}

// List godoc
// @Summary List fraud alerts
// @Tags Alerts
// @Produce json
// @Param sessionId query string false "Session ID"
// @Param studentId query string false "Student ID"
// @Param status query string false "Alert status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	filter := models.AlertFilter{
		SessionID: c.Query("sessionId"),
		StudentID: c.Query("studentId"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "limit", 50),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.AlertStatus(raw)
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown alert status"))
			return
		}
		filter.Status = &status
	}

	rows, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Get godoc
// @Summary Get a fraud alert by id
// @Tags Alerts
// @Produce json
// @Param id path string true "Alert ID"
// @Success 200 {object} response.Envelope
// @Router /alerts/{id} [get]
func (h *AlertHandler) Get(c *gin.Context) {
	alert, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alert, nil)
}

// Transition godoc
// @Summary Apply a disposition action to an alert
// @Tags Alerts
// @Accept json
// @Produce json
// @Param id path string true "Alert ID"
// @Param payload body dto.TransitionAlertRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Router /alerts/{id}/transition [post]
func (h *AlertHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.TransitionAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload"))
		return
	}

	alert, err := h.service.Transition(c.Request.Context(), c.Param("id"), req.Action, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alert, nil)
}

// Audit godoc
// @Summary Get the disposition audit trail for an alert
// @Tags Alerts
// @Produce json
// @Param id path string true "Alert ID"
// @Success 200 {object} response.Envelope
// @Router /alerts/{id}/audit [get]
func (h *AlertHandler) Audit(c *gin.Context) {
	trail, err := h.service.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trail, nil)
}
