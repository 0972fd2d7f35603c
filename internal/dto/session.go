package dto

import (
	"time"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

// CreateSessionRequest is the POST /sessions payload.
type CreateSessionRequest struct {
	CourseID      string                 `json:"course_id"`
	Title         string                 `json:"title"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time"`
	Geofence      models.Geofence        `json:"geofence"`
	Policy        *models.SecurityPolicy `json:"security_policy"`
	TotalStudents int                    `json:"total_students"`
}

// TransitionSessionRequest is the POST /sessions/:id/transition payload.
type TransitionSessionRequest struct {
	Action models.SessionAction `json:"action" binding:"required"`
}

// SessionListRequest captures query filters for GET /sessions.
type SessionListRequest struct {
	CourseID string
	Status   *models.SessionStatus
	Page     int
	PageSize int
}
