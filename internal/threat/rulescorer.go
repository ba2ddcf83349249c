package threat

import "fmt"

// ruleFunc is a function that inspects access point statistics and returns
// zero or more Findings if its rule matches.
type ruleFunc func(s Stats) []Finding

// RuleBasedScorer is the default RuleScorer implementation. It runs a fixed
// set of movement and persistence heuristics and accumulates a score.
type RuleBasedScorer struct {
	rules []ruleFunc
}

// NewRuleBasedScorer returns a RuleBasedScorer loaded with the default rule set.
func NewRuleBasedScorer() *RuleBasedScorer {
	s := &RuleBasedScorer{}
	s.rules = []ruleFunc{
		ruleHomeAndAway,
		ruleDistanceRange,
		rulePersistence,
		ruleObservationVolume,
		ruleStrongSignalAway,
	}
	return s
}

// Score implements RuleScorer.
func (s *RuleBasedScorer) Score(st Stats) RuleReport {
	var findings []Finding
	for _, r := range s.rules {
		findings = append(findings, r(st)...)
	}

	total := 0.0
	for _, f := range findings {
		total += f.Points
	}
	if total > 100 {
		total = 100
	}

	if findings == nil {
		findings = []Finding{}
	}
	return RuleReport{Score: total, Findings: findings}
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// ruleHomeAndAway flags a device seen both at home and away from it, the
// strongest single indicator of something travelling with the operator.
func ruleHomeAndAway(s Stats) []Finding {
	if !s.SeenAtHome || !s.SeenAwayFromHome {
		return nil
	}
	return []Finding{{
		Rule:        "home_and_away",
		Description: "Seen both at home and away from home",
		Points:      40,
	}}
}

// distanceRangeKm is the spread beyond which sightings are treated as
// coming from different places.
const distanceRangeKm = 0.2

func ruleDistanceRange(s Stats) []Finding {
	spread := s.MaxDistanceFromHomeKm - s.DistanceFromHomeKm
	if spread <= distanceRangeKm {
		return nil
	}
	return []Finding{{
		Rule:        "distance_range",
		Description: fmt.Sprintf("Sightings spread over %.2f km", spread),
		Points:      25,
	}}
}

func rulePersistence(s Stats) []Finding {
	var pts float64
	switch {
	case s.UniqueDays >= 7:
		pts = 15
	case s.UniqueDays >= 3:
		pts = 10
	case s.UniqueDays >= 2:
		pts = 5
	default:
		return nil
	}
	return []Finding{{
		Rule:        "multi_day",
		Description: fmt.Sprintf("Seen on %d distinct days", s.UniqueDays),
		Points:      pts,
	}}
}

func ruleObservationVolume(s Stats) []Finding {
	var pts float64
	switch {
	case s.ObservationCount >= 50:
		pts = 10
	case s.ObservationCount >= 20:
		pts = 5
	default:
		return nil
	}
	return []Finding{{
		Rule:        "observation_volume",
		Description: fmt.Sprintf("%d observations", s.ObservationCount),
		Points:      pts,
	}}
}

// strongSignalDBM marks a transmitter close enough to be on or near the
// operator.
const strongSignalDBM = -50

func ruleStrongSignalAway(s Stats) []Finding {
	if !s.SeenAwayFromHome || s.MaxSignalDBM < strongSignalDBM {
		return nil
	}
	return []Finding{{
		Rule:        "strong_signal_away",
		Description: fmt.Sprintf("Signal of %.0f dBm away from home", s.MaxSignalDBM),
		Points:      10,
	}}
}
