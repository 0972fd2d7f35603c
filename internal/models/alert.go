package models

import "time"

// AlertType categorises the dominant fraud signal behind an alert.
type AlertType string

const (
	AlertTypeLocationSpoofing  AlertType = "LOCATION_SPOOFING"
	AlertTypeTimeManipulation  AlertType = "TIME_MANIPULATION"
	AlertTypeDeviceSharing     AlertType = "DEVICE_SHARING"
	AlertTypeMultipleDevices   AlertType = "MULTIPLE_DEVICES"
	AlertTypeSuspiciousPattern AlertType = "SUSPICIOUS_PATTERN"
	AlertTypeQRSharing         AlertType = "QR_SHARING"
)

// AlertStatus is the disposition state of a fraud alert.
type AlertStatus string

const (
	AlertStatusPending       AlertStatus = "PENDING"
	AlertStatusInvestigating AlertStatus = "INVESTIGATING"
	AlertStatusResolved      AlertStatus = "RESOLVED"
	AlertStatusDismissed     AlertStatus = "DISMISSED"
)

// Valid reports whether the status is a known alert state.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusPending, AlertStatusInvestigating, AlertStatusResolved, AlertStatusDismissed:
		return true
	}
	return false
}

// Terminal reports whether the alert is closed.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusResolved || s == AlertStatusDismissed
}

// AlertAction is a manual disposition action on an alert.
type AlertAction string

const (
	AlertActionInvestigate AlertAction = "investigate"
	AlertActionResolve     AlertAction = "resolve"
	AlertActionDismiss     AlertAction = "dismiss"
)

// Valid reports whether the action is recognised.
func (a AlertAction) Valid() bool {
	switch a {
	case AlertActionInvestigate, AlertActionResolve, AlertActionDismiss:
		return true
	}
	return false
}

// FraudAlert is raised when a submission's severity crosses the session
// policy threshold. Alerts are never deleted.
type FraudAlert struct {
	ID        string `db:"id" json:"id"`
	RecordID  string `db:"record_id" json:"record_id"`
	SessionID string `db:"session_id" json:"session_id"`
	StudentID string `db:"student_id" json:"student_id"`

	Type             AlertType   `db:"type" json:"type"`
	Severity         Severity    `db:"severity" json:"severity"`
	RiskScore        float64     `db:"risk_score" json:"risk_score"`
	Status           AlertStatus `db:"status" json:"status"`
	SuggestedActions StringList  `db:"suggested_actions" json:"suggested_actions"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy *string    `db:"resolved_by" json:"resolved_by,omitempty"`
}

// AlertAuditEntry is one row of the append-only alert disposition trail.
type AlertAuditEntry struct {
	ID         int64       `db:"id" json:"id"`
	AlertID    string      `db:"alert_id" json:"alert_id"`
	Actor      string      `db:"actor" json:"actor"`
	FromStatus AlertStatus `db:"from_status" json:"from_status"`
	ToStatus   AlertStatus `db:"to_status" json:"to_status"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// AlertFilter captures criteria for listing fraud alerts.
type AlertFilter struct {
	SessionID string
	StudentID string
	Status    *AlertStatus
	Page      int
	PageSize  int
}
