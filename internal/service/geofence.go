package service

import (
	"math"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	appErrors "github.com/noah-isme/attendance-integrity-api/pkg/errors"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
)

const earthRadiusMeters = 6371000.0

// GeofenceEvaluation is the location verdict for one check-in attempt.
type GeofenceEvaluation struct {
	WithinRadius   bool    `json:"within_radius"`
	DistanceMeters float64 `json:"distance_meters"`
	Risk           float64 `json:"risk"`
}

// GeofenceEvaluator scores claimed locations against a session geofence.
// Pure computation; safe for concurrent use.
type GeofenceEvaluator struct {
	maxRisk          float64
	accuracyPenalty  float64
	requiredAccuracy float64
}

// NewGeofenceEvaluator constructs the evaluator from engine config.
func NewGeofenceEvaluator(cfg config.EngineConfig) *GeofenceEvaluator {
	maxRisk := cfg.LocationMaxRisk
	if maxRisk <= 0 {
		maxRisk = 50
	}
	return &GeofenceEvaluator{
		maxRisk:          maxRisk,
		accuracyPenalty:  cfg.AccuracyPenalty,
		requiredAccuracy: cfg.RequiredAccuracyMeters,
	}
}

// Evaluate scores a claimed location. When the policy does not require
// location the evaluator contributes zero risk. Accuracy of zero or negative
// is invalid input, never silently defaulted.
func (e *GeofenceEvaluator) Evaluate(loc *models.Location, fence models.Geofence, policy models.SecurityPolicy) (GeofenceEvaluation, error) {
	if !policy.LocationRequired {
		return GeofenceEvaluation{WithinRadius: true}, nil
	}
	if loc == nil {
		return GeofenceEvaluation{}, appErrors.Clone(appErrors.ErrInvalidLocationData, "location required by session policy")
	}
	if loc.AccuracyMeters <= 0 {
		return GeofenceEvaluation{}, appErrors.Clone(appErrors.ErrInvalidLocationData, "accuracy must be positive")
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return GeofenceEvaluation{}, appErrors.Clone(appErrors.ErrInvalidLocationData, "coordinates out of range")
	}

	distance := Haversine(loc.Latitude, loc.Longitude, fence.Latitude, fence.Longitude)

	tolerance := fence.ToleranceFactor
	if tolerance <= 0 {
		tolerance = 1
	}
	effectiveRadius := fence.RadiusMeters * tolerance

	eval := GeofenceEvaluation{
		WithinRadius:   distance <= effectiveRadius,
		DistanceMeters: distance,
	}

	if !eval.WithinRadius && fence.RadiusMeters > 0 {
		overshoot := (distance - fence.RadiusMeters) / fence.RadiusMeters * e.maxRisk
		eval.Risk = math.Max(0, math.Min(e.maxRisk, overshoot))
	}

	required := policy.RequiredAccuracyM
	if required <= 0 {
		required = e.requiredAccuracy
	}
	if required > 0 && loc.AccuracyMeters > required {
		eval.Risk += e.accuracyPenalty
	}

	return eval, nil
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
