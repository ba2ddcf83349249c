package threat

import "math"

// Primary classes persisted in ml_primary_class.
const (
	ClassThreat     = "THREAT"
	ClassLegitimate = "LEGITIMATE"
)

// Evidence gate: below these counts the model is not trusted at all.
const (
	minEvidenceObservations = 3
	minEvidenceDays         = 2
	saturationObservations  = 30
	saturationDays          = 7
	saturationLocations     = 5
)

// EvidenceWeight returns how far the model score is trusted, in [0, 1].
func EvidenceWeight(observations, days, locations int) float64 {
	if observations < minEvidenceObservations || days < minEvidenceDays {
		return 0
	}
	w := math.Min(1, math.Log1p(float64(observations))/math.Log1p(saturationObservations))
	w = math.Min(w, math.Min(1, float64(days)/saturationDays))
	w = math.Min(w, math.Min(1, float64(max(locations, 0))/saturationLocations))
	return w
}

// Blend raises rule by the weighted amount ml exceeds it. The result is
// never below rule.
func Blend(rule, ml, weight float64) float64 {
	return rule + weight*math.Max(0, ml-rule)
}

// Diagnostics is the ml_feature_values blob stored with each score.
type Diagnostics struct {
	RuleScore      float64            `json:"rule_score"`
	MLScore        float64            `json:"ml_score"`
	EvidenceWeight float64            `json:"evidence_weight"`
	MLBoost        float64            `json:"ml_boost"`
	Features       map[string]float64 `json:"features"`
	Findings       []Finding          `json:"findings"`
}

// Result is the hybrid score of one access point, rounded for persistence.
type Result struct {
	BSSID          string
	MLScore        float64
	Probability    float64
	PrimaryClass   string
	RuleScore      float64
	FinalScore     float64
	Level          Level
	EvidenceWeight float64
	Diagnostics    Diagnostics
}

// HybridEngine applies a model and a rule scorer to access points. It holds
// no per-network state and is safe for concurrent use.
type HybridEngine struct {
	model *ModelConfig
	stats map[string]FeatureStat
	rules RuleScorer
}

// NewHybridEngine validates model and returns an engine. A nil rules uses
// the default rule set.
func NewHybridEngine(model *ModelConfig, rules RuleScorer) (*HybridEngine, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if rules == nil {
		rules = NewRuleBasedScorer()
	}
	stats := model.Stats
	if len(stats) == 0 {
		stats = DefaultFeatureStats()
	}
	return &HybridEngine{model: model, stats: stats, rules: rules}, nil
}

// Model returns the model the engine applies.
func (e *HybridEngine) Model() *ModelConfig { return e.model }

// Score runs the rule scorer and the model over s.
func (e *HybridEngine) Score(s Stats) Result {
	return e.Evaluate(s, e.rules.Score(s))
}

// Evaluate scores s against a precomputed rule report.
func (e *HybridEngine) Evaluate(s Stats, rule RuleReport) Result {
	raw := Features(s)
	prob := Sigmoid(e.model.Linear(Normalize(raw, e.stats)))
	ml := prob * 100

	ruleScore := clamp(rule.Score)
	weight := EvidenceWeight(s.ObservationCount, s.UniqueDays, s.UniqueLocations)
	boost := weight * math.Max(0, ml-ruleScore)
	final := round(clamp(Blend(ruleScore, ml, weight)), 2)

	mlRounded := round(ml, 2)
	class := ClassLegitimate
	if mlRounded >= 50 {
		class = ClassThreat
	}

	findings := rule.Findings
	if findings == nil {
		findings = []Finding{}
	}
	return Result{
		BSSID:          s.BSSID,
		MLScore:        mlRounded,
		Probability:    round(prob, 3),
		PrimaryClass:   class,
		RuleScore:      round(ruleScore, 2),
		FinalScore:     final,
		Level:          LevelFor(final),
		EvidenceWeight: round(weight, 3),
		Diagnostics: Diagnostics{
			RuleScore:      round(ruleScore, 2),
			MLScore:        mlRounded,
			EvidenceWeight: round(weight, 3),
			MLBoost:        round(boost, 2),
			Features:       raw,
			Findings:       findings,
		},
	}
}

// clamp bounds a score to [0, 100]; non-finite scores become 0.
func clamp(v float64) float64 {
	switch {
	case !finite(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
