package filter

import (
	"fmt"
	"strings"
)

// ValidationError lists every range problem found in a Spec.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid filters: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

// Validate checks value ranges of enabled keys. A minimum RSSI below the
// noise floor is not an error; the compiler clamps it.
func Validate(s *Spec) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	rssiMin, hasMin := s.Number(KeyRSSIMin)
	rssiMax, hasMax := s.Number(KeyRSSIMax)
	if hasMax && rssiMax > 0 {
		add("RSSI maximum above 0 dBm")
	}
	if hasMin && hasMax && rssiMin > rssiMax {
		add("RSSI minimum greater than maximum")
	}
	if v, ok := s.Number(KeyGPSAccuracyMax); ok && v > MaxGPSAccuracyMeters {
		add("GPS accuracy limit too high (>%dm)", MaxGPSAccuracyMeters)
	}
	for _, k := range []Key{KeyThreatScoreMin, KeyThreatScoreMax} {
		if v, ok := s.Number(k); ok && (v < 0 || v > 100) {
			add("%s out of range (0-100)", k)
		}
	}
	for _, k := range []Key{KeyStationaryConfidenceMin, KeyStationaryConfidenceMax} {
		if v, ok := s.Number(k); ok && (v < 0 || v > 1) {
			add("%s out of range (0.0-1.0)", k)
		}
	}
	if v, ok := s.values[KeyBoundingBox].(Box); ok {
		if v.South > v.North {
			add("bounding box south edge is north of its north edge")
		}
		if v.North > 90 || v.South < -90 || v.East > 180 || v.East < -180 || v.West > 180 || v.West < -180 {
			add("bounding box outside valid coordinates")
		}
	}
	if v, ok := s.values[KeyRadiusFilter].(Circle); ok {
		if v.RadiusMeters <= 0 {
			add("radius must be positive")
		}
		if v.Latitude < -90 || v.Latitude > 90 || v.Longitude < -180 || v.Longitude > 180 {
			add("radius center outside valid coordinates")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
