package dto

import "github.com/noah-isme/attendance-integrity-api/internal/models"

// TransitionAlertRequest is the POST /alerts/:id/transition payload.
type TransitionAlertRequest struct {
	Action models.AlertAction `json:"action" binding:"required"`
}

// AlertListRequest captures query filters for GET /alerts.
type AlertListRequest struct {
	SessionID string
	StudentID string
	Status    *models.AlertStatus
	Page      int
	PageSize  int
}
