package models

import "time"

// SessionStatus represents the lifecycle state of an attendance session.
type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "DRAFT"
	SessionStatusScheduled SessionStatus = "SCHEDULED"
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusEnded     SessionStatus = "ENDED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// Valid reports whether the status is a known session state.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusDraft, SessionStatusScheduled, SessionStatusActive,
		SessionStatusPaused, SessionStatusEnded, SessionStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions may leave this state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusEnded || s == SessionStatusCancelled
}

// SessionAction is an instructor-initiated state machine action.
type SessionAction string

const (
	SessionActionStart         SessionAction = "start"
	SessionActionPause         SessionAction = "pause"
	SessionActionStop          SessionAction = "stop"
	SessionActionEmergencyStop SessionAction = "emergencyStop"
)

// Valid reports whether the action is recognised.
func (a SessionAction) Valid() bool {
	switch a {
	case SessionActionStart, SessionActionPause, SessionActionStop, SessionActionEmergencyStop:
		return true
	}
	return false
}

// Geofence is the circular area within which a check-in is physically plausible.
type Geofence struct {
	Latitude        float64 `db:"geo_latitude" json:"latitude" validate:"min=-90,max=90"`
	Longitude       float64 `db:"geo_longitude" json:"longitude" validate:"min=-180,max=180"`
	RadiusMeters    float64 `db:"geo_radius_m" json:"radius_meters" validate:"gt=0"`
	ToleranceFactor float64 `db:"geo_tolerance" json:"tolerance_factor"`
}

// SecurityPolicy is the fully-enumerated per-session verification policy.
// Every field has a documented default applied at session creation; unknown
// fields in incoming payloads are rejected at bind time.
type SecurityPolicy struct {
	LocationRequired      bool    `db:"policy_location_required" json:"location_required"`
	PhotoRequired         bool    `db:"policy_photo_required" json:"photo_required"`
	DeviceCheckRequired   bool    `db:"policy_device_check_required" json:"device_check_required"`
	FraudDetectionEnabled bool    `db:"policy_fraud_detection" json:"fraud_detection_enabled"`
	AllowDeviceChange     bool    `db:"policy_allow_device_change" json:"allow_device_change"`
	AllowAppeal           bool    `db:"policy_allow_appeal" json:"allow_appeal"`
	GracePeriodMinutes    int     `db:"policy_grace_minutes" json:"grace_period_minutes" validate:"min=0"`
	MaxAttemptsPerStudent int     `db:"policy_max_attempts" json:"max_attempts_per_student" validate:"min=1"`
	RiskThreshold         float64 `db:"policy_risk_threshold" json:"risk_threshold" validate:"min=0,max=100"`
	RequiredAccuracyM     float64 `db:"policy_required_accuracy_m" json:"required_accuracy_meters"`
	MaxDevicesPerWindow   int     `db:"policy_max_devices" json:"max_devices_per_window"`
}

// SessionCounters mirror the terminal attendance records attached to a session.
// They are only ever updated inside the same transaction as a record write.
type SessionCounters struct {
	TotalStudents   int `db:"total_students" json:"total_students"`
	PresentCount    int `db:"present_count" json:"present_count"`
	LateCount       int `db:"late_count" json:"late_count"`
	AbsentCount     int `db:"absent_count" json:"absent_count"`
	FraudAlertCount int `db:"fraud_alert_count" json:"fraud_alert_count"`
}

// AttendanceSession represents one class meeting's check-in window.
type AttendanceSession struct {
	ID       string        `db:"id" json:"id"`
	CourseID string        `db:"course_id" json:"course_id"`
	Title    string        `db:"title" json:"title"`
	Status   SessionStatus `db:"status" json:"status"`

	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`

	Geofence Geofence       `json:"geofence"`
	Policy   SecurityPolicy `json:"security_policy"`
	Counters SessionCounters `json:"counters"`

	// PausedAt is set while the session is PAUSED; TotalPausedSeconds
	// accumulates closed pause intervals so elapsed-time accounting can
	// exclude them.
	PausedAt           *time.Time `db:"paused_at" json:"paused_at,omitempty"`
	TotalPausedSeconds int64      `db:"total_paused_seconds" json:"total_paused_seconds"`

	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PausedSeconds returns the total paused duration including a still-open
// pause interval evaluated at the provided instant.
func (s *AttendanceSession) PausedSeconds(now time.Time) int64 {
	total := s.TotalPausedSeconds
	if s.Status == SessionStatusPaused && s.PausedAt != nil && now.After(*s.PausedAt) {
		total += int64(now.Sub(*s.PausedAt).Seconds())
	}
	return total
}

// SessionFilter captures criteria for listing sessions.
type SessionFilter struct {
	CourseID  string
	Status    *SessionStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
