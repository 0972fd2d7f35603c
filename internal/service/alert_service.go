package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
)

type alertRepository interface {
	FindByID(ctx context.Context, id string) (*models.FraudAlert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, int, error)
	Transition(ctx context.Context, id string, from []models.AlertStatus, to models.AlertStatus, actor string, now time.Time) (*models.FraudAlert, error)
	AuditTrail(ctx context.Context, alertID string) ([]models.AlertAuditEntry, error)
}

// alertTransitions mirrors the session state machine shape: one entry per
// disposition action with its legal from-states and its target.
var alertTransitions = map[models.AlertAction]struct {
	from []models.AlertStatus
	to   models.AlertStatus
}{
	models.AlertActionInvestigate: {
		from: []models.AlertStatus{models.AlertStatusPending},
		to:   models.AlertStatusInvestigating,
	},
	models.AlertActionResolve: {
		from: []models.AlertStatus{models.AlertStatusPending, models.AlertStatusInvestigating},
		to:   models.AlertStatusResolved,
	},
	models.AlertActionDismiss: {
		from: []models.AlertStatus{models.AlertStatusPending, models.AlertStatusInvestigating},
		to:   models.AlertStatusDismissed,
	},
}

// AlertService owns the fraud alert disposition workflow.
type AlertService struct {
	repo        alertRepository
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

// NewAlertService constructs the alert service.
func NewAlertService(repo alertRepository, broadcaster Broadcaster, logger *zap.Logger) *AlertService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &AlertService{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Get loads an alert by id.
func (s *AlertService) Get(ctx context.Context, id string) (*models.FraudAlert, error) {
	alert, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "alert not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load alert")
	}
	return alert, nil
}

// List returns alerts matching the filter.
func (s *AlertService) List(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, *models.Pagination, error) {
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
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list alerts")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Transition applies a disposition action. Terminal alerts are immutable: any
// action against a RESOLVED or DISMISSED alert is rejected without touching
// state or the audit trail.
func (s *AlertService) Transition(ctx context.Context, id string, action models.AlertAction, actor string) (*models.FraudAlert, error) {
	rule, ok := alertTransitions[action]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown alert action %q", action))
	}
	now := s.now()
	updated, err := s.repo.Transition(ctx, id, rule.from, rule.to, actor, now)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.transitionMiss(ctx, id, rule.to)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition alert")
	}

	if updated.Status.Terminal() {
		s.broadcaster.Publish(models.EngineEvent{
			Type:      models.EventAlertResolved,
			SessionID: updated.SessionID,
			Timestamp: now,
			Payload: map[string]interface{}{
				"alert_id": updated.ID,
				"status":   updated.Status,
				"actor":    actor,
			},
		})
	}
	s.logger.Info("alert transitioned",
		zap.String("alert_id", updated.ID),
		zap.String("action", string(action)),
		zap.String("status", string(updated.Status)),
		zap.String("actor", actor))
	return updated, nil
}

func (s *AlertService) transitionMiss(ctx context.Context, id string, to models.AlertStatus) (*models.FraudAlert, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "alert not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load alert")
	}
	if current.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrAlertAlreadyClosed,
			fmt.Sprintf("alert is %s and cannot change", current.Status))
	}
	return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition,
		fmt.Sprintf("cannot reach %s from %s", to, current.Status))
}

// AuditTrail returns the append-only disposition history for an alert.
func (s *AlertService) AuditTrail(ctx context.Context, alertID string) ([]models.AlertAuditEntry, error) {
	if _, err := s.Get(ctx, alertID); err != nil {
		return nil, err
	}
	trail, err := s.repo.AuditTrail(ctx, alertID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load alert audit trail")
	}
	return trail, nil
}
