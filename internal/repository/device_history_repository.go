package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

// DeviceHistoryRepository owns the per-(course, student) rolling record of
// seen device fingerprints. Append-only with bounded retention.
type DeviceHistoryRepository struct {
	db        *sqlx.DB
	retention int
}

// NewDeviceHistoryRepository constructs the repository. retention bounds how
// many fingerprints are kept per (course, student).
func NewDeviceHistoryRepository(db *sqlx.DB, retention int) *DeviceHistoryRepository {
	if retention <= 0 {
		retention = 10
	}
	return &DeviceHistoryRepository{db: db, retention: retention}
}

// HistoryFor loads the validator's view: the student's own fingerprint
// entries plus the other students that used the submitted fingerprint in the
// same course at or after windowStart.
func (r *DeviceHistoryRepository) HistoryFor(ctx context.Context, courseID, studentID, fingerprint string, windowStart time.Time) (*models.DeviceHistory, error) {
	history := &models.DeviceHistory{}

	own := `SELECT id, course_id, student_id, fingerprint, clock_offset_ms, last_seen_at, created_at
FROM device_history
WHERE course_id = $1 AND student_id = $2
ORDER BY last_seen_at DESC
LIMIT $3`
	if err := r.db.SelectContext(ctx, &history.Entries, own, courseID, studentID, r.retention); err != nil {
		return nil, fmt.Errorf("load device history: %w", err)
	}

	if fingerprint != "" {
		shared := `SELECT DISTINCT student_id FROM device_history
WHERE course_id = $1 AND fingerprint = $2 AND student_id <> $3 AND last_seen_at >= $4`
		if err := r.db.SelectContext(ctx, &history.SharedWith, shared, courseID, fingerprint, studentID, windowStart); err != nil {
			return nil, fmt.Errorf("load shared device usage: %w", err)
		}
	}

	return history, nil
}

// Record upserts a fingerprint sighting and prunes entries beyond the
// retention bound. Recording happens even when device checks are disabled;
// the history is an audit artifact either way.
func (r *DeviceHistoryRepository) Record(ctx context.Context, courseID, studentID, fingerprint string, clockOffsetMS *int64, seenAt time.Time) error {
	upsert := `INSERT INTO device_history (course_id, student_id, fingerprint, clock_offset_ms, last_seen_at, created_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (course_id, student_id, fingerprint)
DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at,
              clock_offset_ms = COALESCE(EXCLUDED.clock_offset_ms, device_history.clock_offset_ms)`
	if _, err := r.db.ExecContext(ctx, upsert, courseID, studentID, fingerprint, clockOffsetMS, seenAt); err != nil {
		return fmt.Errorf("record device sighting: %w", err)
	}

	prune := `DELETE FROM device_history
WHERE course_id = $1 AND student_id = $2 AND id NOT IN (
    SELECT id FROM device_history
    WHERE course_id = $1 AND student_id = $2
    ORDER BY last_seen_at DESC
    LIMIT $3
)`
	if _, err := r.db.ExecContext(ctx, prune, courseID, studentID, r.retention); err != nil {
		return fmt.Errorf("prune device history: %w", err)
	}
	return nil
}
