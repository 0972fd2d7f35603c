package dto

import (
	"time"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

// CheckinRequest is the POST /sessions/:id/checkins payload. The student
// identity comes from the access token, never the body.
type CheckinRequest struct {
	Location          *models.Location `json:"location"`
	DeviceFingerprint *string          `json:"device_fingerprint"`
	PhotoRef          *string          `json:"photo_ref"`
	ClientTimestamp   *time.Time       `json:"client_timestamp"`
}

// RecordListRequest captures query filters for GET /sessions/:id/records.
type RecordListRequest struct {
	StudentID string
	Outcome   *models.AttendanceOutcome
	Page      int
	PageSize  int
}
