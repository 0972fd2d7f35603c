package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceHistoryForMergesOwnAndShared(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDeviceHistoryRepository(db, 10)

	windowStart := time.Now().Add(-15 * time.Minute)
	own := sqlmock.NewRows([]string{"id", "course_id", "student_id", "fingerprint", "clock_offset_ms", "last_seen_at", "created_at"}).
		AddRow(int64(1), "course-1", "student-1", "fp-known", int64(1200), time.Now(), time.Now())
	mock.ExpectQuery(`SELECT (.+) FROM device_history\s+WHERE course_id = \$1 AND student_id = \$2`).
		WithArgs("course-1", "student-1", 10).
		WillReturnRows(own)
	mock.ExpectQuery(`SELECT DISTINCT student_id FROM device_history`).
		WithArgs("course-1", "fp-known", "student-1", windowStart).
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("student-2"))

	history, err := repo.HistoryFor(context.Background(), "course-1", "student-1", "fp-known", windowStart)
	require.NoError(t, err)
	require.Len(t, history.Entries, 1)
	assert.Equal(t, "fp-known", history.Entries[0].Fingerprint)
	assert.Equal(t, []string{"student-2"}, history.SharedWith)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceHistoryForSkipsSharedLookupWithoutFingerprint(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDeviceHistoryRepository(db, 10)

	mock.ExpectQuery(`SELECT (.+) FROM device_history\s+WHERE course_id = \$1 AND student_id = \$2`).
		WithArgs("course-1", "student-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "student_id", "fingerprint", "clock_offset_ms", "last_seen_at", "created_at"}))

	history, err := repo.HistoryFor(context.Background(), "course-1", "student-1", "", time.Now())
	require.NoError(t, err)
	assert.Empty(t, history.Entries)
	assert.Empty(t, history.SharedWith)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceHistoryRecordUpsertsAndPrunes(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDeviceHistoryRepository(db, 5)

	offset := int64(800)
	seenAt := time.Now()
	mock.ExpectExec(`INSERT INTO device_history`).
		WithArgs("course-1", "student-1", "fp-new", &offset, seenAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM device_history`).
		WithArgs("course-1", "student-1", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Record(context.Background(), "course-1", "student-1", "fp-new", &offset, seenAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
