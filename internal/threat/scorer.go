// Package threat scores access points for surveillance risk. A deterministic
// rule scorer inspects the aggregate sighting statistics of a network, a
// trained logistic model turns the same statistics into a probability, and
// the hybrid engine blends the two, letting the model raise the rule score in
// proportion to how much evidence backs it.
package threat

// Level is a threat bucket persisted next to the final score.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMed      Level = "MED"
	LevelLow      Level = "LOW"
	LevelNone     Level = "NONE"
)

// Levels lists every bucket from most to least severe.
var Levels = []Level{LevelCritical, LevelHigh, LevelMed, LevelLow, LevelNone}

// LevelFor maps a 0–100 score to its bucket. Each bucket includes its lower
// edge:
//
//	80–100 → CRITICAL
//	60–80  → HIGH
//	40–60  → MED
//	20–40  → LOW
//	0–20   → NONE
func LevelFor(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMed
	case score >= 20:
		return LevelLow
	default:
		return LevelNone
	}
}

// Stats is the aggregate record of one access point, as read from the
// access_points relation.
type Stats struct {
	BSSID                 string  `json:"bssid"`
	ObservationCount      int     `json:"observation_count"`
	UniqueDays            int     `json:"unique_days"`
	UniqueLocations       int     `json:"unique_locations"`
	MaxSignalDBM          float64 `json:"max_signal_dbm"`
	DistanceFromHomeKm    float64 `json:"distance_from_home_km"`
	MaxDistanceFromHomeKm float64 `json:"max_distance_from_home_km"`
	SeenAtHome            bool    `json:"seen_at_home"`
	SeenAwayFromHome      bool    `json:"seen_away_from_home"`
}

// Finding is a single rule match returned by the rule scorer.
type Finding struct {
	Rule        string  `json:"rule"`
	Description string  `json:"description"`
	Points      float64 `json:"points"`
}

// RuleReport is the output of a rule scoring pass.
type RuleReport struct {
	// Score is the capped sum of finding points (0–100).
	Score    float64   `json:"score"`
	Findings []Finding `json:"findings"`
}

// RuleScorer computes the deterministic half of the hybrid score.
type RuleScorer interface {
	Score(s Stats) RuleReport
}
