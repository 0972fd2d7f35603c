package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/internal/repository"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
)

type recordRepoStub struct {
	accepted      *models.AttendanceRecord
	attempts      int
	alreadyMarked bool

	capturedRecord *models.AttendanceRecord
	capturedAlert  *models.FraudAlert
	writeCalled    bool
}

func (s *recordRepoStub) FindAccepted(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	if s.accepted == nil {
		return nil, sql.ErrNoRows
	}
	return s.accepted, nil
}

func (s *recordRepoStub) CountAttempts(ctx context.Context, sessionID, studentID string) (int, error) {
	return s.attempts, nil
}

func (s *recordRepoStub) CreateWithCounters(ctx context.Context, record *models.AttendanceRecord, alert *models.FraudAlert) (*repository.WriteResult, error) {
	s.writeCalled = true
	s.capturedRecord = record
	s.capturedAlert = alert
	if s.alreadyMarked {
		return &repository.WriteResult{Record: s.accepted, AlreadyMarked: true}, nil
	}
	record.ID = "record-1"
	if alert != nil {
		alert.ID = "alert-1"
		alert.RecordID = record.ID
	}
	return &repository.WriteResult{Record: record, Alert: alert}, nil
}

func (s *recordRepoStub) List(ctx context.Context, filter models.RecordFilter) ([]models.AttendanceRecord, int, error) {
	return nil, 0, nil
}

type deviceRepoStub struct {
	history  *models.DeviceHistory
	recorded []string
}

func (s *deviceRepoStub) HistoryFor(ctx context.Context, courseID, studentID, fingerprint string, windowStart time.Time) (*models.DeviceHistory, error) {
	if s.history == nil {
		return &models.DeviceHistory{}, nil
	}
	return s.history, nil
}

func (s *deviceRepoStub) Record(ctx context.Context, courseID, studentID, fingerprint string, clockOffsetMS *int64, seenAt time.Time) error {
	s.recorded = append(s.recorded, fingerprint)
	return nil
}

func activeSession(start time.Time) *models.AttendanceSession {
	return &models.AttendanceSession{
		ID:        "session-1",
		CourseID:  "course-1",
		Status:    models.SessionStatusActive,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Policy: models.SecurityPolicy{
			FraudDetectionEnabled: true,
			AllowDeviceChange:     true,
			GracePeriodMinutes:    5,
			MaxAttemptsPerStudent: 3,
			RiskThreshold:         70,
		},
	}
}

func newCheckinFixture(session *models.AttendanceSession, records *recordRepoStub, devices *deviceRepoStub, now time.Time) (*CheckinService, *broadcasterRecorder) {
	cfg := testEngineConfig()
	broadcaster := &broadcasterRecorder{}
	svc := NewCheckinService(
		&sessionRepoStub{session: session},
		records,
		devices,
		NewGeofenceEvaluator(cfg),
		NewDeviceValidator(cfg),
		NewTemporalValidator(cfg),
		NewRiskAggregator(cfg),
		broadcaster,
		nil,
		nil,
		nil,
	)
	svc.now = func() time.Time { return now }
	return svc, broadcaster
}

func TestSubmitOnTimePresent(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	records := &recordRepoStub{}
	devices := &deviceRepoStub{}
	svc, broadcaster := newCheckinFixture(activeSession(start), records, devices, start.Add(2*time.Minute))

	result, err := svc.Submit(context.Background(), SubmitRequest{
		SessionID: "session-1",
		StudentID: "student-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePresent, result.Outcome)
	assert.Equal(t, models.DecisionAllow, result.Decision)
	assert.False(t, result.AlreadyMarked)
	assert.Nil(t, result.AlertID)
	assert.Equal(t, 1, records.capturedRecord.AttemptNumber)

	require.Len(t, broadcaster.events, 1)
	assert.Equal(t, models.EventAttendanceMarked, broadcaster.events[0].Type)
}

func TestSubmitAfterGraceLate(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	records := &recordRepoStub{}
	svc, _ := newCheckinFixture(activeSession(start), records, &deviceRepoStub{}, start.Add(10*time.Minute))

	result, err := svc.Submit(context.Background(), SubmitRequest{
		SessionID: "session-1",
		StudentID: "student-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeLate, result.Outcome)
	assert.InDelta(t, 10, result.RiskScore, 0.01)
}

func TestSubmitIdempotentWhenAlreadyMarked(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	existing := &models.AttendanceRecord{
		ID:        "record-1",
		SessionID: "session-1",
		StudentID: "student-1",
		Outcome:   models.OutcomePresent,
	}
	records := &recordRepoStub{accepted: existing}
	svc, broadcaster := newCheckinFixture(activeSession(start), records, &deviceRepoStub{}, start.Add(2*time.Minute))

	result, err := svc.Submit(context.Background(), SubmitRequest{
		SessionID: "session-1",
		StudentID: "student-1",
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyMarked)
	assert.Equal(t, "record-1", result.Record.ID)
	assert.False(t, records.writeCalled)
	assert.Empty(t, broadcaster.events)
}

func TestSubmitLostWriteRaceIsIdempotent(t *testing.T) {
	// The pre-check misses but the storage unique constraint resolves the
	// race; the losing writer gets the winner's record back.
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	winner := &models.AttendanceRecord{ID: "record-1", Outcome: models.OutcomePresent}
	svc, broadcaster := newCheckinFixture(activeSession(start), &recordRepoStub{}, &deviceRepoStub{}, start.Add(2*time.Minute))
	svc.records = &raceRecordRepo{winner: winner}

	result, err := svc.Submit(context.Background(), SubmitRequest{
		SessionID: "session-1",
		StudentID: "student-1",
	})
	require.NoError(t, err)
	assert.True(t, result.AlreadyMarked)
	assert.Equal(t, "record-1", result.Record.ID)
	assert.Empty(t, broadcaster.events)
}

// raceRecordRepo misses the pre-check but reports AlreadyMarked on write.
type raceRecordRepo struct {
	winner *models.AttendanceRecord
}

func (r *raceRecordRepo) FindAccepted(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	return nil, sql.ErrNoRows
}

func (r *raceRecordRepo) CountAttempts(ctx context.Context, sessionID, studentID string) (int, error) {
	return 0, nil
}

func (r *raceRecordRepo) CreateWithCounters(ctx context.Context, record *models.AttendanceRecord, alert *models.FraudAlert) (*repository.WriteResult, error) {
	return &repository.WriteResult{Record: r.winner, AlreadyMarked: true}, nil
}

func (r *raceRecordRepo) List(ctx context.Context, filter models.RecordFilter) ([]models.AttendanceRecord, int, error) {
	return nil, 0, nil
}

func TestSubmitRejectedWhilePaused(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	session := activeSession(start)
	session.Status = models.SessionStatusPaused
	svc, _ := newCheckinFixture(session, &recordRepoStub{}, &deviceRepoStub{}, start.Add(2*time.Minute))

	_, err := svc.Submit(context.Background(), SubmitRequest{SessionID: "session-1", StudentID: "student-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionPaused))
}

func TestSubmitRejectedWhenNotAccepting(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for _, status := range []models.SessionStatus{
		models.SessionStatusDraft,
		models.SessionStatusScheduled,
		models.SessionStatusEnded,
		models.SessionStatusCancelled,
	} {
		session := activeSession(start)
		session.Status = status
		svc, _ := newCheckinFixture(session, &recordRepoStub{}, &deviceRepoStub{}, start.Add(2*time.Minute))

		_, err := svc.Submit(context.Background(), SubmitRequest{SessionID: "session-1", StudentID: "student-1"})
		require.Error(t, err, "status %s", status)
		assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotAccepting), "status %s", status)
	}
}

func TestSubmitAttemptLimit(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	records := &recordRepoStub{attempts: 3}
	svc, _ := newCheckinFixture(activeSession(start), records, &deviceRepoStub{}, start.Add(2*time.Minute))

	_, err := svc.Submit(context.Background(), SubmitRequest{SessionID: "session-1", StudentID: "student-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTooManyAttempts))
	assert.False(t, records.writeCalled)
}

func TestSubmitGeofenceViolationDenied(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	session := activeSession(start)
	session.Policy.LocationRequired = true
	session.Policy.DeviceCheckRequired = true
	session.Policy.AllowDeviceChange = false
	session.Geofence = models.Geofence{Latitude: 0, Longitude: 0, RadiusMeters: 100}

	records := &recordRepoStub{}
	devices := &deviceRepoStub{history: &models.DeviceHistory{Entries: []models.DeviceHistoryEntry{
		{Fingerprint: "fp-old", LastSeenAt: start},
	}}}
	svc, broadcaster := newCheckinFixture(session, records, devices, start.Add(2*time.Minute))

	fp := "fp-new"
	result, err := svc.Submit(context.Background(), SubmitRequest{
		SessionID: "session-1",
		StudentID: "student-1",
		// Far outside the fence: location maxes out at 50, the unknown
		// device adds 25, crossing the threshold of 70.
		Location:          &models.Location{Latitude: 0, Longitude: 0.01, AccuracyMeters: 20},
		DeviceFingerprint: &fp,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, result.Outcome)
	assert.Equal(t, models.DecisionDeny, result.Decision)
	assert.GreaterOrEqual(t, result.RiskScore, 70.0)
	require.NotNil(t, result.AlertID)

	require.NotNil(t, records.capturedAlert)
	assert.Equal(t, models.AlertStatusPending, records.capturedAlert.Status)
	assert.NotNil(t, records.capturedRecord.RejectReason)

	require.Len(t, broadcaster.events, 2)
	assert.Equal(t, models.EventAttendanceMarked, broadcaster.events[0].Type)
	assert.Equal(t, models.EventAlertRaised, broadcaster.events[1].Type)
}

func TestSubmitAppealPolicyRequiresVerification(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	session := activeSession(start)
	session.Policy.LocationRequired = true
	session.Policy.PhotoRequired = true
	session.Policy.AllowAppeal = true
	session.Geofence = models.Geofence{Latitude: 0, Longitude: 0, RadiusMeters: 100}

	records := &recordRepoStub{}
	svc, _ := newCheckinFixture(session, records, &deviceRepoStub{}, start.Add(2*time.Minute))

	result, err := svc.Submit(context.Background(), SubmitRequest{
		SessionID: "session-1",
		StudentID: "student-1",
		// Max location risk plus the missing photo penalty crosses the
		// threshold, but the appeal policy downgrades the denial.
		Location: &models.Location{Latitude: 0, Longitude: 0.01, AccuracyMeters: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRequireVerification, result.Decision)
	assert.Equal(t, models.OutcomePresent, result.Outcome)
	require.NotNil(t, result.AlertID)
}

func TestSubmitRecordsDeviceSighting(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	session := activeSession(start)
	// Device checks disabled; the sighting is still recorded for audit.
	devices := &deviceRepoStub{}
	svc, _ := newCheckinFixture(session, &recordRepoStub{}, devices, start.Add(2*time.Minute))

	fp := "fp-1"
	_, err := svc.Submit(context.Background(), SubmitRequest{
		SessionID:         "session-1",
		StudentID:         "student-1",
		DeviceFingerprint: &fp,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1"}, devices.recorded)
}

func TestSubmitTooEarlyNotWritten(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	records := &recordRepoStub{}
	svc, _ := newCheckinFixture(activeSession(start), records, &deviceRepoStub{}, start.Add(-time.Minute))

	_, err := svc.Submit(context.Background(), SubmitRequest{SessionID: "session-1", StudentID: "student-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSubmissionTooEarly))
	assert.False(t, records.writeCalled)
}

func TestSubmitMissingSession(t *testing.T) {
	cfg := testEngineConfig()
	svc := NewCheckinService(&sessionRepoStub{}, &recordRepoStub{}, &deviceRepoStub{},
		NewGeofenceEvaluator(cfg), NewDeviceValidator(cfg), NewTemporalValidator(cfg), NewRiskAggregator(cfg),
		nil, nil, nil, nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{SessionID: "missing", StudentID: "student-1"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
