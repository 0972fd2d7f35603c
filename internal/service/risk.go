package service

import (
	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
)

// severityBands is the single table mapping score ranges to severities.
var severityBands = []struct {
	min      float64
	severity models.Severity
}{
	{80, models.SeverityCritical},
	{60, models.SeverityHigh},
	{40, models.SeverityMedium},
	{0, models.SeverityLow},
}

// SeverityFor classifies a clamped risk score.
func SeverityFor(score float64) models.Severity {
	for _, band := range severityBands {
		if score >= band.min {
			return band.severity
		}
	}
	return models.SeverityLow
}

// RiskInput carries the evaluator outputs feeding one aggregation.
type RiskInput struct {
	Location GeofenceEvaluation
	Device   DeviceEvaluation
	Temporal TemporalEvaluation
	// PhotoMissing is true when the policy requires a photo and none was
	// provided or it failed its quality check.
	PhotoMissing bool
}

// RiskAssessment is the aggregator's deterministic verdict.
type RiskAssessment struct {
	Score            float64
	Severity         models.Severity
	Decision         models.RiskDecision
	AlertType        models.AlertType
	SuggestedActions models.StringList
}

// RiskAggregator combines evaluator contributions into a 0-100 score and a
// decision against the session threshold. Stateless and deterministic:
// identical inputs always yield identical assessments.
type RiskAggregator struct {
	defaultThreshold float64
	photoPenalty     float64
}

// NewRiskAggregator constructs the aggregator from engine config.
func NewRiskAggregator(cfg config.EngineConfig) *RiskAggregator {
	threshold := cfg.DefaultRiskThreshold
	if threshold <= 0 {
		threshold = 70
	}
	photo := cfg.PhotoPenalty
	if photo <= 0 {
		photo = 30
	}
	return &RiskAggregator{defaultThreshold: threshold, photoPenalty: photo}
}

// Aggregate combines the evaluator outputs under the session policy.
func (a *RiskAggregator) Aggregate(policy models.SecurityPolicy, input RiskInput) RiskAssessment {
	photoRisk := 0.0
	if input.PhotoMissing {
		photoRisk = a.photoPenalty
	}

	score := input.Location.Risk + input.Device.Risk + input.Temporal.Risk + photoRisk
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	assessment := RiskAssessment{
		Score:    score,
		Severity: SeverityFor(score),
	}

	threshold := policy.RiskThreshold
	if threshold <= 0 {
		threshold = a.defaultThreshold
	}

	switch {
	case !policy.FraudDetectionEnabled || score < threshold:
		assessment.Decision = models.DecisionAllow
	case policy.AllowAppeal:
		assessment.Decision = models.DecisionRequireVerification
	default:
		assessment.Decision = models.DecisionDeny
	}

	if assessment.Decision != models.DecisionAllow {
		assessment.AlertType = dominantSignal(input, photoRisk)
		assessment.SuggestedActions = suggestedActions(assessment.AlertType, assessment.Decision)
	}

	return assessment
}

// dominantSignal picks the alert type for the largest contribution.
func dominantSignal(input RiskInput, photoRisk float64) models.AlertType {
	// Device sharing and multiple devices are explicit signals and take
	// precedence over magnitude comparison.
	for _, signal := range input.Device.Signals {
		if signal == models.AlertTypeDeviceSharing {
			return signal
		}
	}
	for _, signal := range input.Device.Signals {
		if signal == models.AlertTypeMultipleDevices {
			return signal
		}
	}
	if input.Temporal.TimeManipulation {
		return models.AlertTypeTimeManipulation
	}
	if input.Location.Risk >= input.Device.Risk && input.Location.Risk >= input.Temporal.Risk && input.Location.Risk >= photoRisk && input.Location.Risk > 0 {
		return models.AlertTypeLocationSpoofing
	}
	return models.AlertTypeSuspiciousPattern
}

func suggestedActions(alertType models.AlertType, decision models.RiskDecision) models.StringList {
	actions := models.StringList{}
	switch alertType {
	case models.AlertTypeLocationSpoofing:
		actions = append(actions, "verify_student_location", "request_in_person_confirmation")
	case models.AlertTypeDeviceSharing:
		actions = append(actions, "interview_both_students", "require_individual_devices")
	case models.AlertTypeMultipleDevices:
		actions = append(actions, "review_device_history")
	case models.AlertTypeTimeManipulation:
		actions = append(actions, "inspect_device_clock", "verify_submission_time")
	default:
		actions = append(actions, "manual_review")
	}
	if decision == models.DecisionRequireVerification {
		actions = append(actions, "await_student_appeal")
	}
	return actions
}
