package service

import (
	"time"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
)

// TemporalEvaluation is the timing verdict for one check-in attempt.
type TemporalEvaluation struct {
	Outcome          models.AttendanceOutcome `json:"outcome"`
	Risk             float64                  `json:"risk"`
	TimeManipulation bool                     `json:"time_manipulation"`
}

// TemporalValidator classifies submissions against the session window.
// Server timestamps only; client clocks are untrusted.
type TemporalValidator struct {
	defaultGrace    time.Duration
	lateRisk        float64
	clockOffsetRisk float64
	offsetJumpMS    int64
}

// NewTemporalValidator constructs the validator from engine config.
func NewTemporalValidator(cfg config.EngineConfig) *TemporalValidator {
	grace := cfg.DefaultGracePeriod
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	jump := cfg.ClockOffsetJumpMS
	if jump <= 0 {
		jump = 120000
	}
	return &TemporalValidator{
		defaultGrace:    grace,
		lateRisk:        cfg.LateRisk,
		clockOffsetRisk: cfg.ClockOffsetRisk,
		offsetJumpMS:    jump,
	}
}

// Evaluate classifies the submission time. Accumulated paused seconds shift
// the grace and end deadlines so pause time never counts against the
// student. prevOffset/currentOffset are the device's recorded and current
// server-to-client clock offsets; a sharp jump between them adds
// time-manipulation risk without changing the outcome.
func (v *TemporalValidator) Evaluate(session *models.AttendanceSession, submittedAt time.Time, prevOffsetMS, currentOffsetMS *int64) (TemporalEvaluation, error) {
	if submittedAt.Before(session.StartTime) {
		return TemporalEvaluation{}, appErrors.ErrSubmissionTooEarly
	}

	grace := v.defaultGrace
	if session.Policy.GracePeriodMinutes > 0 {
		grace = time.Duration(session.Policy.GracePeriodMinutes) * time.Minute
	}
	paused := time.Duration(session.PausedSeconds(submittedAt)) * time.Second

	graceDeadline := session.StartTime.Add(grace + paused)
	endDeadline := session.EndTime.Add(paused)

	if submittedAt.After(endDeadline) {
		return TemporalEvaluation{}, appErrors.ErrSubmissionTooLate
	}

	eval := TemporalEvaluation{Outcome: models.OutcomePresent}
	if submittedAt.After(graceDeadline) {
		eval.Outcome = models.OutcomeLate
		eval.Risk = v.lateRisk
	}

	if prevOffsetMS != nil && currentOffsetMS != nil {
		delta := *currentOffsetMS - *prevOffsetMS
		if delta < 0 {
			delta = -delta
		}
		if delta > v.offsetJumpMS {
			eval.Risk += v.clockOffsetRisk
			eval.TimeManipulation = true
		}
	}

	return eval, nil
}
