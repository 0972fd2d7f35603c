package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/internal/repository"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
)

type recordRepository interface {
	FindAccepted(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error)
	CountAttempts(ctx context.Context, sessionID, studentID string) (int, error)
	CreateWithCounters(ctx context.Context, record *models.AttendanceRecord, alert *models.FraudAlert) (*repository.WriteResult, error)
	List(ctx context.Context, filter models.RecordFilter) ([]models.AttendanceRecord, int, error)
}

type deviceHistoryRepository interface {
	HistoryFor(ctx context.Context, courseID, studentID, fingerprint string, windowStart time.Time) (*models.DeviceHistory, error)
	Record(ctx context.Context, courseID, studentID, fingerprint string, clockOffsetMS *int64, seenAt time.Time) error
}

type engineMetrics interface {
	ObserveSubmission(outcome models.AttendanceOutcome, score float64)
	AlertRaised(severity models.Severity)
}

// CheckinService coordinates attendance marking: it gates on session state,
// runs the evaluators, aggregates risk, and performs the atomic record plus
// counter write. All contention is resolved at the storage layer; the
// service itself holds no cross-request state.
type CheckinService struct {
	sessions    sessionRepository
	records     recordRepository
	devices     deviceHistoryRepository
	geofence    *GeofenceEvaluator
	device      *DeviceValidator
	temporal    *TemporalValidator
	aggregator  *RiskAggregator
	broadcaster Broadcaster
	metrics     engineMetrics
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewCheckinService constructs the coordinator.
func NewCheckinService(
	sessions sessionRepository,
	records recordRepository,
	devices deviceHistoryRepository,
	geofence *GeofenceEvaluator,
	device *DeviceValidator,
	temporal *TemporalValidator,
	aggregator *RiskAggregator,
	broadcaster Broadcaster,
	metrics engineMetrics,
	validate *validator.Validate,
	logger *zap.Logger,
) *CheckinService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &CheckinService{
		sessions:    sessions,
		records:     records,
		devices:     devices,
		geofence:    geofence,
		device:      device,
		temporal:    temporal,
		aggregator:  aggregator,
		broadcaster: broadcaster,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest is one check-in attempt. The submission timestamp is always
// taken from the server clock; ClientTimestamp is used only to derive the
// device clock offset signal.
type SubmitRequest struct {
	SessionID         string           `json:"-" validate:"required"`
	StudentID         string           `json:"-" validate:"required"`
	Location          *models.Location `json:"location"`
	DeviceFingerprint *string          `json:"device_fingerprint"`
	PhotoRef          *string          `json:"photo_ref"`
	ClientTimestamp   *time.Time       `json:"client_timestamp"`
}

// SubmitResult reports the terminal outcome of a submission.
type SubmitResult struct {
	Outcome       models.AttendanceOutcome `json:"outcome"`
	RiskScore     float64                  `json:"risk_score"`
	Severity      models.Severity          `json:"severity"`
	Decision      models.RiskDecision      `json:"decision"`
	AlreadyMarked bool                     `json:"already_marked"`
	Record        *models.AttendanceRecord `json:"record"`
	AlertID       *string                  `json:"alert_id,omitempty"`
}

// Submit runs the full pipeline for one check-in attempt.
func (s *CheckinService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission")
	}

	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	switch session.Status {
	case models.SessionStatusActive:
	case models.SessionStatusPaused:
		return nil, appErrors.ErrSessionPaused
	default:
		return nil, appErrors.ErrSessionNotAccepting
	}

	// Harmless double-submit: answer with the existing accepted record.
	if existing, err := s.records.FindAccepted(ctx, req.SessionID, req.StudentID); err == nil {
		return alreadyMarkedResult(existing), nil
	} else if err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing record")
	}

	attempts, err := s.records.CountAttempts(ctx, req.SessionID, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attempts")
	}
	if attempts >= session.Policy.MaxAttemptsPerStudent {
		return nil, appErrors.ErrTooManyAttempts
	}

	now := s.now()

	fingerprint := ""
	if req.DeviceFingerprint != nil {
		fingerprint = *req.DeviceFingerprint
	}
	history := &models.DeviceHistory{}
	if fingerprint != "" {
		history, err = s.devices.HistoryFor(ctx, session.CourseID, req.StudentID, fingerprint, session.StartTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device history")
		}
	}

	var currentOffsetMS *int64
	if req.ClientTimestamp != nil {
		offset := now.Sub(*req.ClientTimestamp).Milliseconds()
		currentOffsetMS = &offset
	}
	prevOffsetMS := history.LastClockOffset(fingerprint)

	temporalEval, err := s.temporal.Evaluate(session, now, prevOffsetMS, currentOffsetMS)
	if err != nil {
		return nil, err
	}

	locationEval, err := s.geofence.Evaluate(req.Location, session.Geofence, session.Policy)
	if err != nil {
		return nil, err
	}

	deviceEval := s.device.Evaluate(session.Policy, *history, fingerprint, now)

	photoMissing := session.Policy.PhotoRequired && (req.PhotoRef == nil || *req.PhotoRef == "")

	assessment := s.aggregator.Aggregate(session.Policy, RiskInput{
		Location:     locationEval,
		Device:       deviceEval,
		Temporal:     temporalEval,
		PhotoMissing: photoMissing,
	})

	record := buildRecord(session, req, now, temporalEval, locationEval, assessment, attempts+1)

	var alert *models.FraudAlert
	if assessment.Decision != models.DecisionAllow && session.Policy.FraudDetectionEnabled {
		alert = &models.FraudAlert{
			SessionID:        session.ID,
			StudentID:        req.StudentID,
			Type:             assessment.AlertType,
			Severity:         assessment.Severity,
			RiskScore:        assessment.Score,
			Status:           models.AlertStatusPending,
			SuggestedActions: assessment.SuggestedActions,
		}
	}

	written, err := s.records.CreateWithCounters(ctx, record, alert)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance")
	}
	if written.AlreadyMarked {
		return alreadyMarkedResult(written.Record), nil
	}

	// Device sightings are recorded for audit regardless of enforcement.
	if fingerprint != "" {
		if err := s.devices.Record(ctx, session.CourseID, req.StudentID, fingerprint, currentOffsetMS, now); err != nil {
			s.logger.Warn("failed to record device sighting",
				zap.String("session_id", session.ID),
				zap.String("student_id", req.StudentID),
				zap.Error(err))
		}
	}

	s.publishMarked(session.ID, written, now)

	if s.metrics != nil {
		s.metrics.ObserveSubmission(written.Record.Outcome, written.Record.RiskScore)
		if written.Alert != nil {
			s.metrics.AlertRaised(written.Alert.Severity)
		}
	}

	result := &SubmitResult{
		Outcome:   written.Record.Outcome,
		RiskScore: written.Record.RiskScore,
		Severity:  written.Record.Severity,
		Decision:  assessment.Decision,
		Record:    written.Record,
	}
	if written.Alert != nil {
		result.AlertID = &written.Alert.ID
	}
	return result, nil
}

func alreadyMarkedResult(record *models.AttendanceRecord) *SubmitResult {
	return &SubmitResult{
		Outcome:       record.Outcome,
		RiskScore:     record.RiskScore,
		Severity:      record.Severity,
		Decision:      models.DecisionAllow,
		AlreadyMarked: true,
		Record:        record,
	}
}

func buildRecord(session *models.AttendanceSession, req SubmitRequest, now time.Time, temporalEval TemporalEvaluation, locationEval GeofenceEvaluation, assessment RiskAssessment, attempt int) *models.AttendanceRecord {
	record := &models.AttendanceRecord{
		SessionID:         session.ID,
		StudentID:         req.StudentID,
		SubmittedAt:       now,
		DeviceFingerprint: req.DeviceFingerprint,
		PhotoRef:          req.PhotoRef,
		RiskScore:         assessment.Score,
		Severity:          assessment.Severity,
		AttemptNumber:     attempt,
	}
	if req.Location != nil {
		lat, lon, acc := req.Location.Latitude, req.Location.Longitude, req.Location.AccuracyMeters
		record.ClaimedLatitude = &lat
		record.ClaimedLongitude = &lon
		record.AccuracyMeters = &acc
		dist := locationEval.DistanceMeters
		record.DistanceMeters = &dist
	}

	if assessment.Decision == models.DecisionDeny {
		record.Outcome = models.OutcomeRejected
		reason := "risk score above session threshold"
		record.RejectReason = &reason
	} else {
		record.Outcome = temporalEval.Outcome
	}
	return record
}

func (s *CheckinService) publishMarked(sessionID string, written *repository.WriteResult, now time.Time) {
	s.broadcaster.Publish(models.EngineEvent{
		Type:      models.EventAttendanceMarked,
		SessionID: sessionID,
		Timestamp: now,
		Payload: map[string]interface{}{
			"student_id": written.Record.StudentID,
			"outcome":    written.Record.Outcome,
			"risk_score": written.Record.RiskScore,
			"severity":   written.Record.Severity,
		},
	})
	if written.Alert != nil {
		s.broadcaster.Publish(models.EngineEvent{
			Type:      models.EventAlertRaised,
			SessionID: sessionID,
			Timestamp: now,
			Payload: map[string]interface{}{
				"alert_id":   written.Alert.ID,
				"student_id": written.Alert.StudentID,
				"type":       written.Alert.Type,
				"severity":   written.Alert.Severity,
				"risk_score": written.Alert.RiskScore,
			},
		})
	}
}

// ListRecords returns attendance records for instructors.
func (s *CheckinService) ListRecords(ctx context.Context, filter models.RecordFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	filter.Page = page
	filter.PageSize = size
	rows, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}
