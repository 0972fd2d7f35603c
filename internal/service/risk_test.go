package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

func fraudPolicy() models.SecurityPolicy {
	return models.SecurityPolicy{
		FraudDetectionEnabled: true,
		RiskThreshold:         70,
	}
}

func TestSeverityBands(t *testing.T) {
	cases := []struct {
		score    float64
		expected models.Severity
	}{
		{0, models.SeverityLow},
		{39.9, models.SeverityLow},
		{40, models.SeverityMedium},
		{59.9, models.SeverityMedium},
		{60, models.SeverityHigh},
		{79.9, models.SeverityHigh},
		{80, models.SeverityCritical},
		{100, models.SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, SeverityFor(tc.score), "score %v", tc.score)
	}
}

func TestAggregateBelowThresholdAllows(t *testing.T) {
	a := NewRiskAggregator(testEngineConfig())

	assessment := a.Aggregate(fraudPolicy(), RiskInput{
		Location: GeofenceEvaluation{Risk: 30},
		Temporal: TemporalEvaluation{Risk: 10},
	})
	assert.InDelta(t, 40, assessment.Score, 0.01)
	assert.Equal(t, models.SeverityMedium, assessment.Severity)
	assert.Equal(t, models.DecisionAllow, assessment.Decision)
	assert.Empty(t, assessment.SuggestedActions)
}

func TestAggregateAtThresholdDenies(t *testing.T) {
	a := NewRiskAggregator(testEngineConfig())

	assessment := a.Aggregate(fraudPolicy(), RiskInput{
		Location: GeofenceEvaluation{Risk: 50},
		Device:   DeviceEvaluation{Risk: 20},
	})
	assert.InDelta(t, 70, assessment.Score, 0.01)
	assert.Equal(t, models.DecisionDeny, assessment.Decision)
}

func TestAggregateAppealDowngradesToVerification(t *testing.T) {
	a := NewRiskAggregator(testEngineConfig())
	policy := fraudPolicy()
	policy.AllowAppeal = true

	assessment := a.Aggregate(policy, RiskInput{
		Location: GeofenceEvaluation{Risk: 50},
		Device:   DeviceEvaluation{Risk: 30},
	})
	assert.Equal(t, models.DecisionRequireVerification, assessment.Decision)
	assert.Contains(t, assessment.SuggestedActions, "await_student_appeal")
}

func TestAggregateClampsAtHundred(t *testing.T) {
	a := NewRiskAggregator(testEngineConfig())

	assessment := a.Aggregate(fraudPolicy(), RiskInput{
		Location:     GeofenceEvaluation{Risk: 50},
		Device:       DeviceEvaluation{Risk: 80},
		Temporal:     TemporalEvaluation{Risk: 30},
		PhotoMissing: true,
	})
	assert.InDelta(t, 100, assessment.Score, 0.01)
	assert.Equal(t, models.SeverityCritical, assessment.Severity)
}

func TestAggregateFraudDetectionDisabledAlwaysAllows(t *testing.T) {
	a := NewRiskAggregator(testEngineConfig())
	policy := fraudPolicy()
	policy.FraudDetectionEnabled = false

	assessment := a.Aggregate(policy, RiskInput{
		Location: GeofenceEvaluation{Risk: 50},
		Device:   DeviceEvaluation{Risk: 50},
	})
	assert.Equal(t, models.DecisionAllow, assessment.Decision)
}

func TestAggregateDominantSignalSelection(t *testing.T) {
	a := NewRiskAggregator(testEngineConfig())

	sharing := a.Aggregate(fraudPolicy(), RiskInput{
		Location: GeofenceEvaluation{Risk: 45},
		Device: DeviceEvaluation{
			Risk:    40,
			Signals: []models.AlertType{models.AlertTypeDeviceSharing},
		},
	})
	assert.Equal(t, models.AlertTypeDeviceSharing, sharing.AlertType)

	timeManip := a.Aggregate(fraudPolicy(), RiskInput{
		Device:   DeviceEvaluation{Risk: 30},
		Temporal: TemporalEvaluation{Risk: 50, TimeManipulation: true},
	})
	assert.Equal(t, models.AlertTypeTimeManipulation, timeManip.AlertType)

	location := a.Aggregate(fraudPolicy(), RiskInput{
		Location: GeofenceEvaluation{Risk: 50},
		Device:   DeviceEvaluation{Risk: 25},
	})
	assert.Equal(t, models.AlertTypeLocationSpoofing, location.AlertType)
}

func TestAggregateDeterministic(t *testing.T) {
	a := NewRiskAggregator(testEngineConfig())
	input := RiskInput{
		Location: GeofenceEvaluation{Risk: 33.3},
		Device:   DeviceEvaluation{Risk: 40},
		Temporal: TemporalEvaluation{Risk: 10},
	}

	first := a.Aggregate(fraudPolicy(), input)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.Aggregate(fraudPolicy(), input))
	}
}
