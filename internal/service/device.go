package service

import (
	"time"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
)

// DeviceEvaluation is the device-identity verdict for one check-in attempt.
type DeviceEvaluation struct {
	Risk      float64            `json:"risk"`
	NewDevice bool               `json:"new_device"`
	Signals   []models.AlertType `json:"signals,omitempty"`
}

// DeviceValidator scores a device fingerprint against the student's history.
// Pure decision over a pre-loaded DeviceHistory snapshot.
type DeviceValidator struct {
	newDeviceRisk       float64
	sharingRisk         float64
	multipleDevicesRisk float64
	window              time.Duration
	maxDevices          int
}

// NewDeviceValidator constructs the validator from engine config.
func NewDeviceValidator(cfg config.EngineConfig) *DeviceValidator {
	window := cfg.DeviceWindow
	if window <= 0 {
		window = 15 * time.Minute
	}
	maxDevices := cfg.MaxDevicesPerWindow
	if maxDevices <= 0 {
		maxDevices = 2
	}
	return &DeviceValidator{
		newDeviceRisk:       cfg.NewDeviceRisk,
		sharingRisk:         cfg.DeviceSharingRisk,
		multipleDevicesRisk: cfg.MultipleDevicesRisk,
		window:              window,
		maxDevices:          maxDevices,
	}
}

// Evaluate scores the fingerprint. When the policy does not require device
// checks the validator contributes zero risk; the sighting is still recorded
// for audit by the coordinator.
func (v *DeviceValidator) Evaluate(policy models.SecurityPolicy, history models.DeviceHistory, fingerprint string, now time.Time) DeviceEvaluation {
	if !policy.DeviceCheckRequired || fingerprint == "" {
		return DeviceEvaluation{}
	}

	eval := DeviceEvaluation{}

	if !history.KnownFingerprint(fingerprint) {
		eval.NewDevice = true
		if !policy.AllowDeviceChange && len(history.Entries) > 0 {
			eval.Risk += v.newDeviceRisk
		}
	}

	if len(history.SharedWith) > 0 {
		eval.Risk += v.sharingRisk
		eval.Signals = append(eval.Signals, models.AlertTypeDeviceSharing)
	}

	maxDevices := policy.MaxDevicesPerWindow
	if maxDevices <= 0 {
		maxDevices = v.maxDevices
	}
	cutoff := now.Add(-v.window)
	if history.DistinctFingerprintsSince(cutoff, fingerprint) > maxDevices {
		eval.Risk += v.multipleDevicesRisk
		eval.Signals = append(eval.Signals, models.AlertTypeMultipleDevices)
	}

	return eval
}
