package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

// SessionRepository handles persistence for attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// sessionRow is the flat scan target for the attendance_sessions table.
type sessionRow struct {
	ID       string               `db:"id"`
	CourseID string               `db:"course_id"`
	Title    string               `db:"title"`
	Status   models.SessionStatus `db:"status"`

	StartTime time.Time `db:"start_time"`
	EndTime   time.Time `db:"end_time"`

	GeoLatitude  float64 `db:"geo_latitude"`
	GeoLongitude float64 `db:"geo_longitude"`
	GeoRadiusM   float64 `db:"geo_radius_m"`
	GeoTolerance float64 `db:"geo_tolerance"`

	PolicyLocationRequired    bool    `db:"policy_location_required"`
	PolicyPhotoRequired       bool    `db:"policy_photo_required"`
	PolicyDeviceCheckRequired bool    `db:"policy_device_check_required"`
	PolicyFraudDetection      bool    `db:"policy_fraud_detection"`
	PolicyAllowDeviceChange   bool    `db:"policy_allow_device_change"`
	PolicyAllowAppeal         bool    `db:"policy_allow_appeal"`
	PolicyGraceMinutes        int     `db:"policy_grace_minutes"`
	PolicyMaxAttempts         int     `db:"policy_max_attempts"`
	PolicyRiskThreshold       float64 `db:"policy_risk_threshold"`
	PolicyRequiredAccuracyM   float64 `db:"policy_required_accuracy_m"`
	PolicyMaxDevices          int     `db:"policy_max_devices"`

	TotalStudents   int `db:"total_students"`
	PresentCount    int `db:"present_count"`
	LateCount       int `db:"late_count"`
	AbsentCount     int `db:"absent_count"`
	FraudAlertCount int `db:"fraud_alert_count"`

	PausedAt           *time.Time `db:"paused_at"`
	TotalPausedSeconds int64      `db:"total_paused_seconds"`

	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r sessionRow) toModel() *models.AttendanceSession {
	return &models.AttendanceSession{
		ID:       r.ID,
		CourseID: r.CourseID,
		Title:    r.Title,
		Status:   r.Status,

		StartTime: r.StartTime,
		EndTime:   r.EndTime,

		Geofence: models.Geofence{
			Latitude:        r.GeoLatitude,
			Longitude:       r.GeoLongitude,
			RadiusMeters:    r.GeoRadiusM,
			ToleranceFactor: r.GeoTolerance,
		},
		Policy: models.SecurityPolicy{
			LocationRequired:      r.PolicyLocationRequired,
			PhotoRequired:         r.PolicyPhotoRequired,
			DeviceCheckRequired:   r.PolicyDeviceCheckRequired,
			FraudDetectionEnabled: r.PolicyFraudDetection,
			AllowDeviceChange:     r.PolicyAllowDeviceChange,
			AllowAppeal:           r.PolicyAllowAppeal,
			GracePeriodMinutes:    r.PolicyGraceMinutes,
			MaxAttemptsPerStudent: r.PolicyMaxAttempts,
			RiskThreshold:         r.PolicyRiskThreshold,
			RequiredAccuracyM:     r.PolicyRequiredAccuracyM,
			MaxDevicesPerWindow:   r.PolicyMaxDevices,
		},
		Counters: models.SessionCounters{
			TotalStudents:   r.TotalStudents,
			PresentCount:    r.PresentCount,
			LateCount:       r.LateCount,
			AbsentCount:     r.AbsentCount,
			FraudAlertCount: r.FraudAlertCount,
		},

		PausedAt:           r.PausedAt,
		TotalPausedSeconds: r.TotalPausedSeconds,

		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const sessionColumns = `id, course_id, title, status, start_time, end_time,
geo_latitude, geo_longitude, geo_radius_m, geo_tolerance,
policy_location_required, policy_photo_required, policy_device_check_required,
policy_fraud_detection, policy_allow_device_change, policy_allow_appeal,
policy_grace_minutes, policy_max_attempts, policy_risk_threshold,
policy_required_accuracy_m, policy_max_devices,
total_students, present_count, late_count, absent_count, fraud_alert_count,
paused_at, total_paused_seconds, created_by, created_at, updated_at`

// Create inserts a new session in DRAFT state.
func (r *SessionRepository) Create(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error) {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	query := fmt.Sprintf(`INSERT INTO attendance_sessions (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
RETURNING %s`, sessionColumns, sessionColumns)
	var row sessionRow
	err := r.db.GetContext(ctx, &row, query,
		s.ID, s.CourseID, s.Title, s.Status, s.StartTime, s.EndTime,
		s.Geofence.Latitude, s.Geofence.Longitude, s.Geofence.RadiusMeters, s.Geofence.ToleranceFactor,
		s.Policy.LocationRequired, s.Policy.PhotoRequired, s.Policy.DeviceCheckRequired,
		s.Policy.FraudDetectionEnabled, s.Policy.AllowDeviceChange, s.Policy.AllowAppeal,
		s.Policy.GracePeriodMinutes, s.Policy.MaxAttemptsPerStudent, s.Policy.RiskThreshold,
		s.Policy.RequiredAccuracyM, s.Policy.MaxDevicesPerWindow,
		s.Counters.TotalStudents, 0, 0, 0, 0,
		nil, 0, s.CreatedBy, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return row.toModel(), nil
}

// FindByID loads a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE id = $1`, sessionColumns)
	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return row.toModel(), nil
}

// List returns sessions matching the filter with pagination.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.AttendanceSession, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.CourseID != "" {
		where = append(where, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"start_time": "start_time",
		"created_at": "created_at",
		"status":     "status",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "start_time"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		sessionColumns, whereClause, sortColumn, order, size, offset)
	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_sessions WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	sessions := make([]models.AttendanceSession, len(rows))
	for i, row := range rows {
		sessions[i] = *row.toModel()
	}
	return sessions, total, nil
}

// Transition performs a compare-and-swap status update. The row is updated
// only when its current status is one of the expected from-states, so two
// concurrent identical transitions yield exactly one effectful update. Pause
// bookkeeping happens in the same statement: entering PAUSED stamps
// paused_at, leaving PAUSED folds the open interval into
// total_paused_seconds.
func (r *SessionRepository) Transition(ctx context.Context, id string, from []models.SessionStatus, to models.SessionStatus, now time.Time) (*models.AttendanceSession, error) {
	fromValues := make([]string, len(from))
	for i, s := range from {
		fromValues[i] = string(s)
	}
	query := fmt.Sprintf(`UPDATE attendance_sessions
SET status = $2,
    updated_at = $3,
    total_paused_seconds = total_paused_seconds + CASE
        WHEN status = 'PAUSED' AND paused_at IS NOT NULL
        THEN CAST(EXTRACT(EPOCH FROM ($3 - paused_at)) AS BIGINT)
        ELSE 0 END,
    paused_at = CASE WHEN $2 = 'PAUSED' THEN $3 ELSE NULL END
WHERE id = $1 AND status = ANY($4)
RETURNING %s`, sessionColumns)
	var row sessionRow
	err := r.db.GetContext(ctx, &row, query, id, to, now, pq.Array(fromValues))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("transition session: %w", err)
	}
	return row.toModel(), nil
}
