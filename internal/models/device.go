package models

import "time"

// DeviceHistoryEntry is one previously seen device fingerprint for a student
// within a course. The table is append-only with bounded retention.
type DeviceHistoryEntry struct {
	ID          int64     `db:"id" json:"id"`
	CourseID    string    `db:"course_id" json:"course_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	// ClockOffsetMS is the last observed server-to-client clock offset for
	// this device, used to detect sudden offset jumps.
	ClockOffsetMS *int64    `db:"clock_offset_ms" json:"clock_offset_ms,omitempty"`
	LastSeenAt    time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// DeviceHistory is the validator's view of a student's device usage plus the
// fingerprints other students used inside the current session window.
type DeviceHistory struct {
	// Entries are the student's own fingerprints, most recent first.
	Entries []DeviceHistoryEntry
	// SharedWith holds student IDs (other than the submitting student) that
	// used the submitted fingerprint inside the session window.
	SharedWith []string
}

// KnownFingerprint reports whether the fingerprint has been seen for this
// student before.
func (h DeviceHistory) KnownFingerprint(fp string) bool {
	for _, e := range h.Entries {
		if e.Fingerprint == fp {
			return true
		}
	}
	return false
}

// DistinctFingerprintsSince counts distinct fingerprints the student used at
// or after the cutoff, including the submitted one if unseen.
func (h DeviceHistory) DistinctFingerprintsSince(cutoff time.Time, fp string) int {
	seen := map[string]struct{}{}
	if fp != "" {
		seen[fp] = struct{}{}
	}
	for _, e := range h.Entries {
		if e.LastSeenAt.Before(cutoff) {
			continue
		}
		seen[e.Fingerprint] = struct{}{}
	}
	return len(seen)
}

// LastClockOffset returns the most recent recorded clock offset for the
// fingerprint, if any.
func (h DeviceHistory) LastClockOffset(fp string) *int64 {
	for _, e := range h.Entries {
		if e.Fingerprint == fp && e.ClockOffsetMS != nil {
			return e.ClockOffsetMS
		}
	}
	return nil
}
