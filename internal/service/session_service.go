package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
)

type sessionRepository interface {
	Create(ctx context.Context, s *models.AttendanceSession) (*models.AttendanceSession, error)
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.AttendanceSession, int, error)
	Transition(ctx context.Context, id string, from []models.SessionStatus, to models.SessionStatus, now time.Time) (*models.AttendanceSession, error)
}

// Broadcaster publishes immutable engine facts. Delivery mechanics live
// behind this interface; publishing never fails the caller.
type Broadcaster interface {
	Publish(event models.EngineEvent)
}

// sessionTransitions is the full state machine: one entry per action with
// the states the action may leave from and the state it lands in.
var sessionTransitions = map[models.SessionAction]struct {
	from []models.SessionStatus
	to   models.SessionStatus
}{
	models.SessionActionStart: {
		from: []models.SessionStatus{models.SessionStatusDraft, models.SessionStatusScheduled, models.SessionStatusPaused},
		to:   models.SessionStatusActive,
	},
	models.SessionActionPause: {
		from: []models.SessionStatus{models.SessionStatusActive},
		to:   models.SessionStatusPaused,
	},
	models.SessionActionStop: {
		from: []models.SessionStatus{models.SessionStatusActive, models.SessionStatusPaused},
		to:   models.SessionStatusEnded,
	},
	models.SessionActionEmergencyStop: {
		from: []models.SessionStatus{models.SessionStatusActive},
		to:   models.SessionStatusCancelled,
	},
}

// SessionService owns the attendance session lifecycle.
type SessionService struct {
	repo        sessionRepository
	broadcaster Broadcaster
	engineCfg   config.EngineConfig
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewSessionService constructs the session service.
func NewSessionService(repo sessionRepository, broadcaster Broadcaster, engineCfg config.EngineConfig, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &SessionService{
		repo:        repo,
		broadcaster: broadcaster,
		engineCfg:   engineCfg,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(models.EngineEvent) {}

// CreateSessionRequest is the payload for opening a new session.
type CreateSessionRequest struct {
	CourseID      string                 `json:"course_id" validate:"required"`
	Title         string                 `json:"title" validate:"required"`
	StartTime     time.Time              `json:"start_time" validate:"required"`
	EndTime       time.Time              `json:"end_time" validate:"required"`
	Geofence      models.Geofence        `json:"geofence"`
	Policy        *models.SecurityPolicy `json:"security_policy"`
	TotalStudents int                    `json:"total_students"`
	CreatedBy     string                 `json:"-"`
}

// Create opens a new session in DRAFT with policy defaults applied.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.AttendanceSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	policy := s.policyWithDefaults(req.Policy)
	if err := s.validator.Struct(policy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid security policy")
	}
	if policy.LocationRequired {
		if err := s.validator.Struct(req.Geofence); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid geofence")
		}
	}

	session := &models.AttendanceSession{
		CourseID:  req.CourseID,
		Title:     req.Title,
		Status:    models.SessionStatusDraft,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
		Geofence:  req.Geofence,
		Policy:    policy,
		Counters:  models.SessionCounters{TotalStudents: req.TotalStudents},
		CreatedBy: req.CreatedBy,
	}
	stored, err := s.repo.Create(ctx, session)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	return stored, nil
}

func (s *SessionService) policyWithDefaults(policy *models.SecurityPolicy) models.SecurityPolicy {
	applied := models.SecurityPolicy{
		FraudDetectionEnabled: true,
		AllowDeviceChange:     true,
	}
	if policy != nil {
		applied = *policy
	}
	if applied.GracePeriodMinutes <= 0 {
		applied.GracePeriodMinutes = int(s.engineCfg.DefaultGracePeriod.Minutes())
	}
	if applied.MaxAttemptsPerStudent <= 0 {
		applied.MaxAttemptsPerStudent = s.engineCfg.DefaultMaxAttempts
	}
	if applied.RiskThreshold <= 0 {
		applied.RiskThreshold = s.engineCfg.DefaultRiskThreshold
	}
	if applied.RequiredAccuracyM <= 0 {
		applied.RequiredAccuracyM = s.engineCfg.RequiredAccuracyMeters
	}
	if applied.MaxDevicesPerWindow <= 0 {
		applied.MaxDevicesPerWindow = s.engineCfg.MaxDevicesPerWindow
	}
	return applied
}

// Get loads a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.AttendanceSession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// List returns sessions matching the filter.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.AttendanceSession, *models.Pagination, error) {
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
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Transition applies a state machine action. The status swap is a storage
// level compare-and-swap: of two concurrent identical actions exactly one
// performs the update and the other observes the already-reached state as a
// no-op. Illegal transitions leave state untouched.
func (s *SessionService) Transition(ctx context.Context, id string, action models.SessionAction) (*models.AttendanceSession, error) {
	rule, ok := sessionTransitions[action]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown session action %q", action))
	}
	now := s.now()
	updated, err := s.repo.Transition(ctx, id, rule.from, rule.to, now)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.transitionMiss(ctx, id, rule.to)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition session")
	}

	s.broadcaster.Publish(models.EngineEvent{
		Type:      models.EventSessionStateChanged,
		SessionID: updated.ID,
		Timestamp: now,
		Payload: map[string]interface{}{
			"status": updated.Status,
			"action": action,
		},
	})
	s.logger.Info("session transitioned",
		zap.String("session_id", updated.ID),
		zap.String("action", string(action)),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// transitionMiss distinguishes a missing session, a lost race to the same
// target state (a harmless no-op), and a genuinely illegal transition.
func (s *SessionService) transitionMiss(ctx context.Context, id string, to models.SessionStatus) (*models.AttendanceSession, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if current.Status == to {
		return current, nil
	}
	return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
		fmt.Sprintf("cannot reach %s from %s", to, current.Status))
}
