package models

import "time"

// AttendanceOutcome is the terminal classification of a check-in attempt.
type AttendanceOutcome string

const (
	OutcomePresent  AttendanceOutcome = "PRESENT"
	OutcomeLate     AttendanceOutcome = "LATE"
	OutcomeRejected AttendanceOutcome = "REJECTED"
)

// Accepted reports whether the outcome occupies the student's attendance slot.
func (o AttendanceOutcome) Accepted() bool {
	return o == OutcomePresent || o == OutcomeLate
}

// Severity bands classify a composite risk score.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// RiskDecision is the aggregator's verdict against the session threshold.
type RiskDecision string

const (
	DecisionAllow               RiskDecision = "ALLOW"
	DecisionRequireVerification RiskDecision = "REQUIRE_VERIFICATION"
	DecisionDeny                RiskDecision = "DENY"
)

// Location is a claimed client position with reported accuracy.
type Location struct {
	Latitude       float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude      float64 `json:"longitude" validate:"min=-180,max=180"`
	AccuracyMeters float64 `json:"accuracy_meters"`
}

// AttendanceRecord is one student's accepted or rejected check-in for one
// session. Rows are immutable once written; at most one accepted record may
// exist per (session, student), enforced by a partial unique index.
type AttendanceRecord struct {
	ID        string `db:"id" json:"id"`
	SessionID string `db:"session_id" json:"session_id"`
	StudentID string `db:"student_id" json:"student_id"`

	SubmittedAt time.Time `db:"submitted_at" json:"submitted_at"`

	ClaimedLatitude   *float64 `db:"claimed_latitude" json:"claimed_latitude,omitempty"`
	ClaimedLongitude  *float64 `db:"claimed_longitude" json:"claimed_longitude,omitempty"`
	AccuracyMeters    *float64 `db:"accuracy_meters" json:"accuracy_meters,omitempty"`
	DistanceMeters    *float64 `db:"distance_meters" json:"distance_meters,omitempty"`
	DeviceFingerprint *string  `db:"device_fingerprint" json:"device_fingerprint,omitempty"`
	PhotoRef          *string  `db:"photo_ref" json:"photo_ref,omitempty"`

	RiskScore     float64           `db:"risk_score" json:"risk_score"`
	Severity      Severity          `db:"severity" json:"severity"`
	Outcome       AttendanceOutcome `db:"outcome" json:"outcome"`
	AttemptNumber int               `db:"attempt_number" json:"attempt_number"`
	RejectReason  *string           `db:"reject_reason" json:"reject_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RecordFilter captures criteria for listing attendance records.
type RecordFilter struct {
	SessionID string
	StudentID string
	Outcome   *AttendanceOutcome
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
