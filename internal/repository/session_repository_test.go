package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

var sessionColumnList = []string{
	"id", "course_id", "title", "status", "start_time", "end_time",
	"geo_latitude", "geo_longitude", "geo_radius_m", "geo_tolerance",
	"policy_location_required", "policy_photo_required", "policy_device_check_required",
	"policy_fraud_detection", "policy_allow_device_change", "policy_allow_appeal",
	"policy_grace_minutes", "policy_max_attempts", "policy_risk_threshold",
	"policy_required_accuracy_m", "policy_max_devices",
	"total_students", "present_count", "late_count", "absent_count", "fraud_alert_count",
	"paused_at", "total_paused_seconds", "created_by", "created_at", "updated_at",
}

func sessionRowFixture(id string, status models.SessionStatus, pausedSeconds int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(sessionColumnList).
		AddRow(id, "course-1", "Lecture 5", string(status), now, now.Add(time.Hour),
			-6.1754, 106.8272, 100.0, 1.0,
			true, false, true,
			true, true, false,
			5, 3, 70.0,
			100.0, 2,
			30, 0, 0, 0, 0,
			nil, pausedSeconds, "instructor-1", now, now)
}

func TestSessionRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM attendance_sessions WHERE id = \$1`).
		WithArgs("session-1").
		WillReturnRows(sessionRowFixture("session-1", models.SessionStatusActive, 0))

	session, err := repo.FindByID(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.InDelta(t, 100, session.Geofence.RadiusMeters, 0.01)
	assert.True(t, session.Policy.DeviceCheckRequired)
	assert.Equal(t, 3, session.Policy.MaxAttemptsPerStudent)
}

func TestSessionRepositoryFindByIDMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM attendance_sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`INSERT INTO attendance_sessions`).
		WillReturnRows(sessionRowFixture("session-1", models.SessionStatusDraft, 0))

	session, err := repo.Create(context.Background(), &models.AttendanceSession{
		CourseID:  "course-1",
		Title:     "Lecture 5",
		Status:    models.SessionStatusDraft,
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.ID)
	assert.Equal(t, models.SessionStatusDraft, session.Status)
}

func TestSessionRepositoryTransitionCAS(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`UPDATE attendance_sessions`).
		WithArgs("session-1", models.SessionStatusActive, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sessionRowFixture("session-1", models.SessionStatusActive, 0))

	session, err := repo.Transition(context.Background(), "session-1",
		[]models.SessionStatus{models.SessionStatusDraft, models.SessionStatusScheduled},
		models.SessionStatusActive, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, session.Status)
}

func TestSessionRepositoryTransitionMiss(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery(`UPDATE attendance_sessions`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Transition(context.Background(), "session-1",
		[]models.SessionStatus{models.SessionStatusActive},
		models.SessionStatusPaused, time.Now())
	assert.Equal(t, sql.ErrNoRows, err)
}

func TestSessionRepositoryListWithFilter(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	status := models.SessionStatusActive
	mock.ExpectQuery(`SELECT (.+) FROM attendance_sessions WHERE 1=1 AND course_id = \$1 AND status = \$2`).
		WithArgs("course-1", status).
		WillReturnRows(sessionRowFixture("session-1", models.SessionStatusActive, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM attendance_sessions`).
		WithArgs("course-1", status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows, total, err := repo.List(context.Background(), models.SessionFilter{
		CourseID: "course-1",
		Status:   &status,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "session-1", rows[0].ID)
}
