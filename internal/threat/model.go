package threat

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoModel is returned when no trained model is stored for the
	// requested model type.
	ErrNoModel = errors.New("no trained model found")
	// ErrInvalidModel is returned for a model whose parameters cannot be
	// applied.
	ErrInvalidModel = errors.New("invalid model config")
)

// DefaultModelType is the model_type row the scorer loads.
const DefaultModelType = "threat_logistic_regression"

// Feature names, as stored in feature_names.
const (
	FeatureDistanceRange     = "distance_range_km"
	FeatureUniqueDays        = "unique_days"
	FeatureObservationCount  = "observation_count"
	FeatureMaxSignal         = "max_signal"
	FeatureUniqueLocations   = "unique_locations"
	FeatureSeenBothLocations = "seen_both_locations"
)

// FeatureOrder is the canonical order of the six features.
var FeatureOrder = []string{
	FeatureDistanceRange,
	FeatureUniqueDays,
	FeatureObservationCount,
	FeatureMaxSignal,
	FeatureUniqueLocations,
	FeatureSeenBothLocations,
}

// FeatureStat is the min/max range a feature is scaled over.
type FeatureStat struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultFeatureStats are the ranges observed in the training population.
// They apply when a stored model carries no normalization stats.
func DefaultFeatureStats() map[string]FeatureStat {
	return map[string]FeatureStat{
		FeatureDistanceRange:     {Min: 0, Max: 9.29},
		FeatureUniqueDays:        {Min: 1, Max: 222},
		FeatureObservationCount:  {Min: 1, Max: 2260},
		FeatureMaxSignal:         {Min: -149, Max: 127},
		FeatureUniqueLocations:   {Min: 1, Max: 213},
		FeatureSeenBothLocations: {Min: 0, Max: 1},
	}
}

// ModelConfig is a trained logistic regression model.
type ModelConfig struct {
	ModelType    string    `json:"model_type"`
	Version      string    `json:"version"`
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	FeatureNames []string  `json:"feature_names"`
	// Stats holds per-feature normalization ranges. A feature without an
	// entry is used unnormalized.
	Stats map[string]FeatureStat `json:"normalization_stats"`
}

// Validate reports whether m can be applied.
func (m *ModelConfig) Validate() error {
	if m == nil {
		return ErrNoModel
	}
	if len(m.Coefficients) == 0 {
		return fmt.Errorf("%w: no coefficients", ErrInvalidModel)
	}
	if len(m.Coefficients) != len(m.FeatureNames) {
		return fmt.Errorf("%w: %d coefficients for %d feature names",
			ErrInvalidModel, len(m.Coefficients), len(m.FeatureNames))
	}
	if !finite(m.Intercept) {
		return fmt.Errorf("%w: intercept is not finite", ErrInvalidModel)
	}
	for i, c := range m.Coefficients {
		if !finite(c) {
			return fmt.Errorf("%w: coefficient %d (%s) is not finite", ErrInvalidModel, i, m.FeatureNames[i])
		}
	}
	return nil
}

// Linear returns intercept + Σ coefficient·feature over the shorter of the
// coefficient and feature-name lists. Missing or non-finite features
// contribute nothing.
func (m *ModelConfig) Linear(normalized map[string]float64) float64 {
	z := m.Intercept
	n := min(len(m.Coefficients), len(m.FeatureNames))
	for i := 0; i < n; i++ {
		v := normalized[m.FeatureNames[i]]
		if !finite(v) {
			continue
		}
		z += m.Coefficients[i] * v
	}
	return z
}

// Features extracts the raw feature vector of an access point.
func Features(s Stats) map[string]float64 {
	both := 0.0
	if s.SeenAtHome && s.SeenAwayFromHome {
		both = 1
	}
	return map[string]float64{
		FeatureDistanceRange:     s.MaxDistanceFromHomeKm - s.DistanceFromHomeKm,
		FeatureUniqueDays:        float64(s.UniqueDays),
		FeatureObservationCount:  float64(s.ObservationCount),
		FeatureMaxSignal:         s.MaxSignalDBM,
		FeatureUniqueLocations:   float64(s.UniqueLocations),
		FeatureSeenBothLocations: both,
	}
}

// Normalize min-max scales raw using stats. A range with max equal to min
// scales to 0.
func Normalize(raw map[string]float64, stats map[string]FeatureStat) map[string]float64 {
	out := make(map[string]float64, len(raw))
	for name, v := range raw {
		st, ok := stats[name]
		switch {
		case !ok:
			out[name] = v
		case st.Max == st.Min:
			out[name] = 0
		default:
			out[name] = (v - st.Min) / (st.Max - st.Min)
		}
	}
	return out
}

// Sigmoid is the logistic function, saturated outside ±500. Non-finite
// input or output yields 0.5.
func Sigmoid(z float64) float64 {
	switch {
	case z > 500:
		return 1
	case z < -500:
		return 0
	}
	p := 1 / (1 + math.Exp(-z))
	if !finite(p) {
		return 0.5
	}
	return p
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
