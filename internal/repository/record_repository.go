package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

// RecordRepository handles persistence for attendance records. The accepted
// slot per (session, student) is guarded by a partial unique index; counter
// updates always ride the same transaction as the record write.
type RecordRepository struct {
	db *sqlx.DB
}

// NewRecordRepository constructs the repository.
func NewRecordRepository(db *sqlx.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `id, session_id, student_id, submitted_at,
claimed_latitude, claimed_longitude, accuracy_meters, distance_meters,
device_fingerprint, photo_ref, risk_score, severity, outcome, attempt_number,
reject_reason, created_at`

const alertColumns = `id, record_id, session_id, student_id, type, severity,
risk_score, status, suggested_actions, created_at, resolved_at, resolved_by`

// WriteResult describes the outcome of an atomic record write.
type WriteResult struct {
	// Record is the stored record: the freshly inserted one, or the
	// pre-existing accepted record when AlreadyMarked.
	Record *models.AttendanceRecord
	// Alert is the fraud alert inserted alongside the record, if any.
	Alert *models.FraudAlert
	// AlreadyMarked is true when an accepted record already occupied the
	// (session, student) slot and no write happened.
	AlreadyMarked bool
}

// CreateWithCounters atomically inserts the record, bumps the session's
// matching counter, and optionally inserts a fraud alert with its counter —
// all in one transaction, so counters can never drift from the record set. A
// concurrent accepted record for the same slot surfaces as AlreadyMarked
// without error; the caller treats that as an idempotent success.
func (r *RecordRepository) CreateWithCounters(ctx context.Context, record *models.AttendanceRecord, alert *models.FraudAlert) (*WriteResult, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin record write: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	var insertQuery string
	if record.Outcome.Accepted() {
		insertQuery = fmt.Sprintf(`INSERT INTO attendance_records (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (session_id, student_id) WHERE outcome IN ('PRESENT','LATE') DO NOTHING
RETURNING %s`, recordColumns, recordColumns)
	} else {
		insertQuery = fmt.Sprintf(`INSERT INTO attendance_records (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
RETURNING %s`, recordColumns, recordColumns)
	}

	var stored models.AttendanceRecord
	err = tx.GetContext(ctx, &stored, insertQuery,
		record.ID, record.SessionID, record.StudentID, record.SubmittedAt,
		record.ClaimedLatitude, record.ClaimedLongitude, record.AccuracyMeters, record.DistanceMeters,
		record.DeviceFingerprint, record.PhotoRef, record.RiskScore, record.Severity,
		record.Outcome, record.AttemptNumber, record.RejectReason, record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			// Lost the slot to a concurrent accepted write.
			existing, findErr := r.FindAccepted(ctx, record.SessionID, record.StudentID)
			if findErr != nil {
				return nil, fmt.Errorf("load existing accepted record: %w", findErr)
			}
			return &WriteResult{Record: existing, AlreadyMarked: true}, nil
		}
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}

	counter := counterColumn(record.Outcome)
	updateCounters := fmt.Sprintf(`UPDATE attendance_sessions SET %s = %s + 1, updated_at = $2 WHERE id = $1`, counter, counter)
	if _, err := tx.ExecContext(ctx, updateCounters, record.SessionID, now); err != nil {
		return nil, fmt.Errorf("increment %s: %w", counter, err)
	}

	result := &WriteResult{Record: &stored}

	if alert != nil {
		if alert.ID == "" {
			alert.ID = uuid.NewString()
		}
		alert.RecordID = stored.ID
		alert.CreatedAt = now
		alertQuery := fmt.Sprintf(`INSERT INTO fraud_alerts (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING %s`, alertColumns, alertColumns)
		var storedAlert models.FraudAlert
		err = tx.GetContext(ctx, &storedAlert, alertQuery,
			alert.ID, alert.RecordID, alert.SessionID, alert.StudentID,
			alert.Type, alert.Severity, alert.RiskScore, alert.Status,
			alert.SuggestedActions, alert.CreatedAt, nil, nil,
		)
		if err != nil {
			return nil, fmt.Errorf("insert fraud alert: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attendance_sessions SET fraud_alert_count = fraud_alert_count + 1, updated_at = $2 WHERE id = $1`,
			record.SessionID, now); err != nil {
			return nil, fmt.Errorf("increment fraud_alert_count: %w", err)
		}
		result.Alert = &storedAlert
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit record write: %w", err)
	}
	commit = true
	return result, nil
}

func counterColumn(outcome models.AttendanceOutcome) string {
	switch outcome {
	case models.OutcomePresent:
		return "present_count"
	case models.OutcomeLate:
		return "late_count"
	default:
		return "absent_count"
	}
}

// FindAccepted returns the accepted record occupying the (session, student)
// slot, or sql.ErrNoRows.
func (r *RecordRepository) FindAccepted(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
WHERE session_id = $1 AND student_id = $2 AND outcome IN ('PRESENT','LATE')`, recordColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, sessionID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find accepted record: %w", err)
	}
	return &record, nil
}

// CountAttempts returns how many attempts the student has made for the
// session, accepted or rejected.
func (r *RecordRepository) CountAttempts(ctx context.Context, sessionID, studentID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM attendance_records WHERE session_id = $1 AND student_id = $2`
	if err := r.db.GetContext(ctx, &count, query, sessionID, studentID); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

// List returns attendance records matching the filter.
func (r *RecordRepository) List(ctx context.Context, filter models.RecordFilter) ([]models.AttendanceRecord, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.SessionID != "" {
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Outcome != nil {
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)+1))
		args = append(args, *filter.Outcome)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"submitted_at": "submitted_at",
		"risk_score":   "risk_score",
	}
	sortColumn, ok := allowedSort[filter.SortBy]
	if !ok {
		sortColumn = "submitted_at"
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

	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		recordColumns, whereClause, sortColumn, order, size, offset)
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_records WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}
	return rows, total, nil
}
