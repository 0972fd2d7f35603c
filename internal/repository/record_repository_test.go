package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

var recordColumnList = []string{
	"id", "session_id", "student_id", "submitted_at",
	"claimed_latitude", "claimed_longitude", "accuracy_meters", "distance_meters",
	"device_fingerprint", "photo_ref", "risk_score", "severity", "outcome", "attempt_number",
	"reject_reason", "created_at",
}

func recordRow(id string, outcome models.AttendanceOutcome) *sqlmock.Rows {
	return sqlmock.NewRows(recordColumnList).
		AddRow(id, "session-1", "student-1", time.Now(),
			nil, nil, nil, nil,
			nil, nil, 0.0, "LOW", string(outcome), 1,
			nil, time.Now())
}

func TestRecordCreateWithCountersAccepted(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO attendance_records`).
		WillReturnRows(recordRow("record-1", models.OutcomePresent))
	mock.ExpectExec(`UPDATE attendance_sessions SET present_count = present_count \+ 1`).
		WithArgs("session-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record := &models.AttendanceRecord{
		SessionID:   "session-1",
		StudentID:   "student-1",
		SubmittedAt: time.Now(),
		Severity:    models.SeverityLow,
		Outcome:     models.OutcomePresent,
	}
	result, err := repo.CreateWithCounters(context.Background(), record, nil)
	require.NoError(t, err)
	assert.False(t, result.AlreadyMarked)
	assert.Equal(t, "record-1", result.Record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCreateWithCountersRejectedBumpsAbsent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO attendance_records`).
		WillReturnRows(recordRow("record-1", models.OutcomeRejected))
	mock.ExpectExec(`UPDATE attendance_sessions SET absent_count = absent_count \+ 1`).
		WithArgs("session-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO fraud_alerts`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "record_id", "session_id", "student_id", "type", "severity",
			"risk_score", "status", "suggested_actions", "created_at", "resolved_at", "resolved_by",
		}).AddRow("alert-1", "record-1", "session-1", "student-1", "LOCATION_SPOOFING", "HIGH",
			75.0, "PENDING", `["manual_review"]`, time.Now(), nil, nil))
	mock.ExpectExec(`UPDATE attendance_sessions SET fraud_alert_count = fraud_alert_count \+ 1`).
		WithArgs("session-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	record := &models.AttendanceRecord{
		SessionID:   "session-1",
		StudentID:   "student-1",
		SubmittedAt: time.Now(),
		Severity:    models.SeverityHigh,
		Outcome:     models.OutcomeRejected,
	}
	alert := &models.FraudAlert{
		SessionID: "session-1",
		StudentID: "student-1",
		Type:      models.AlertTypeLocationSpoofing,
		Severity:  models.SeverityHigh,
		RiskScore: 75,
		Status:    models.AlertStatusPending,
	}
	result, err := repo.CreateWithCounters(context.Background(), record, alert)
	require.NoError(t, err)
	require.NotNil(t, result.Alert)
	assert.Equal(t, "alert-1", result.Alert.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCreateWithCountersLostSlot(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO attendance_records`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT (.+) FROM attendance_records`).
		WithArgs("session-1", "student-1").
		WillReturnRows(recordRow("record-winner", models.OutcomePresent))
	mock.ExpectRollback()

	record := &models.AttendanceRecord{
		SessionID:   "session-1",
		StudentID:   "student-1",
		SubmittedAt: time.Now(),
		Severity:    models.SeverityLow,
		Outcome:     models.OutcomePresent,
	}
	result, err := repo.CreateWithCounters(context.Background(), record, nil)
	require.NoError(t, err)
	assert.True(t, result.AlreadyMarked)
	assert.Equal(t, "record-winner", result.Record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFindAcceptedMiss(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM attendance_records`).
		WithArgs("session-1", "student-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindAccepted(context.Background(), "session-1", "student-1")
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestRecordCountAttempts(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM attendance_records`).
		WithArgs("session-1", "student-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountAttempts(context.Background(), "session-1", "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordListFiltersByOutcome(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRecordRepository(db)

	outcome := models.OutcomeRejected
	mock.ExpectQuery(`SELECT (.+) FROM attendance_records WHERE 1=1 AND session_id = \$1 AND outcome = \$2`).
		WithArgs("session-1", outcome).
		WillReturnRows(recordRow("record-1", models.OutcomeRejected))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM attendance_records`).
		WithArgs("session-1", outcome).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows, total, err := repo.List(context.Background(), models.RecordFilter{
		SessionID: "session-1",
		Outcome:   &outcome,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutcomeRejected, rows[0].Outcome)
}
