package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

func devicePolicy() models.SecurityPolicy {
	return models.SecurityPolicy{
		DeviceCheckRequired: true,
		AllowDeviceChange:   true,
		MaxDevicesPerWindow: 2,
	}
}

func historyWith(now time.Time, fingerprints ...string) models.DeviceHistory {
	h := models.DeviceHistory{}
	for _, fp := range fingerprints {
		h.Entries = append(h.Entries, models.DeviceHistoryEntry{
			Fingerprint: fp,
			LastSeenAt:  now.Add(-time.Minute),
		})
	}
	return h
}

func TestDeviceCheckDisabledContributesNothing(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()

	eval := v.Evaluate(models.SecurityPolicy{}, historyWith(now, "other"), "fp-1", now)
	assert.Zero(t, eval.Risk)
	assert.Empty(t, eval.Signals)
}

func TestDeviceKnownFingerprintNoRisk(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()

	eval := v.Evaluate(devicePolicy(), historyWith(now, "fp-1"), "fp-1", now)
	assert.False(t, eval.NewDevice)
	assert.Zero(t, eval.Risk)
}

func TestDeviceNewFingerprintAllowedChange(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()

	eval := v.Evaluate(devicePolicy(), historyWith(now, "fp-old"), "fp-new", now)
	assert.True(t, eval.NewDevice)
	assert.Zero(t, eval.Risk)
}

func TestDeviceNewFingerprintChangeForbidden(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()
	policy := devicePolicy()
	policy.AllowDeviceChange = false

	eval := v.Evaluate(policy, historyWith(now, "fp-old"), "fp-new", now)
	assert.True(t, eval.NewDevice)
	assert.InDelta(t, 25, eval.Risk, 0.01)
}

func TestDeviceFirstEverFingerprintNoRisk(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()
	policy := devicePolicy()
	policy.AllowDeviceChange = false

	// No history at all: first enrollment of a device is not suspicious.
	eval := v.Evaluate(policy, models.DeviceHistory{}, "fp-new", now)
	assert.True(t, eval.NewDevice)
	assert.Zero(t, eval.Risk)
}

func TestDeviceSharingSignal(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()
	history := historyWith(now, "fp-1")
	history.SharedWith = []string{"student-2"}

	eval := v.Evaluate(devicePolicy(), history, "fp-1", now)
	assert.InDelta(t, 40, eval.Risk, 0.01)
	assert.Contains(t, eval.Signals, models.AlertTypeDeviceSharing)
}

func TestDeviceMultipleDevicesSignal(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()
	// Two recent fingerprints plus a new third one exceeds the budget of 2.
	history := historyWith(now, "fp-1", "fp-2")

	eval := v.Evaluate(devicePolicy(), history, "fp-3", now)
	assert.InDelta(t, 40, eval.Risk, 0.01)
	assert.Contains(t, eval.Signals, models.AlertTypeMultipleDevices)
}

func TestDeviceOldFingerprintsOutsideWindowIgnored(t *testing.T) {
	v := NewDeviceValidator(testEngineConfig())
	now := time.Now()
	history := models.DeviceHistory{Entries: []models.DeviceHistoryEntry{
		{Fingerprint: "fp-1", LastSeenAt: now.Add(-time.Hour)},
		{Fingerprint: "fp-2", LastSeenAt: now.Add(-2 * time.Hour)},
	}}

	eval := v.Evaluate(devicePolicy(), history, "fp-3", now)
	assert.NotContains(t, eval.Signals, models.AlertTypeMultipleDevices)
}
