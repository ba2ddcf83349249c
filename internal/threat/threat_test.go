package threat

import (
	"errors"
	"math"
	"testing"
)

func testModel() *ModelConfig {
	return &ModelConfig{
		ModelType:    DefaultModelType,
		Version:      "test",
		Coefficients: []float64{2, 1, 1, 0.5, 1, 3},
		Intercept:    -3,
		FeatureNames: append([]string(nil), FeatureOrder...),
	}
}

func mustEngine(t *testing.T, m *ModelConfig) *HybridEngine {
	t.Helper()
	e, err := NewHybridEngine(m, nil)
	if err != nil {
		t.Fatalf("NewHybridEngine: %v", err)
	}
	return e
}

// fixedRules returns the same report for every network.
type fixedRules float64

func (f fixedRules) Score(Stats) RuleReport { return RuleReport{Score: float64(f)} }

// ── Levels ────────────────────────────────────────────────────────────────────

func TestLevelFor_boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{100, LevelCritical},
		{80, LevelCritical},
		{79.99, LevelHigh},
		{60, LevelHigh},
		{59.99, LevelMed},
		{40, LevelMed},
		{39.99, LevelLow},
		{20, LevelLow},
		{19.99, LevelNone},
		{0, LevelNone},
	}
	for _, tc := range cases {
		if got := LevelFor(tc.score); got != tc.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

// ── Sigmoid ───────────────────────────────────────────────────────────────────

func TestSigmoid_saturation(t *testing.T) {
	if got := Sigmoid(1000); got != 1.0 {
		t.Errorf("Sigmoid(1000) = %v, want exactly 1", got)
	}
	if got := Sigmoid(-1000); got != 0.0 {
		t.Errorf("Sigmoid(-1000) = %v, want exactly 0", got)
	}
	if got := Sigmoid(0); got != 0.5 {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
}

func TestSigmoid_neverNaN(t *testing.T) {
	for _, z := range []float64{-500, -499.9, -40, -1e-9, 1e-9, 40, 499.9, 500, math.MaxFloat64, -math.MaxFloat64} {
		p := Sigmoid(z)
		if math.IsNaN(p) || p < 0 || p > 1 {
			t.Errorf("Sigmoid(%v) = %v", z, p)
		}
	}
	for _, z := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := Sigmoid(z)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Errorf("Sigmoid(%v) = %v, want finite", z, p)
		}
	}
	if got := Sigmoid(math.NaN()); got != 0.5 {
		t.Errorf("Sigmoid(NaN) = %v, want 0.5", got)
	}
}

// ── Evidence weight and blend ────────────────────────────────────────────────

func TestEvidenceWeight(t *testing.T) {
	cases := []struct {
		name            string
		obs, days, locs int
		want            float64
	}{
		{"single observation", 1, 10, 10, 0},
		{"single day", 100, 1, 10, 0},
		{"saturated", 30, 7, 5, 1},
		{"well past saturation", 5000, 300, 200, 1},
		{"days limit", 100, 2, 10, 2.0 / 7},
		{"locations limit", 100, 10, 1, 0.2},
		{"no locations", 100, 10, 0, 0},
		{"observations limit", 3, 7, 5, math.Log(4) / math.Log(31)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvidenceWeight(tc.obs, tc.days, tc.locs)
			if math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("EvidenceWeight = %v, want %v", got, tc.want)
			}
			if got < 0 || got > 1 {
				t.Errorf("weight %v outside [0, 1]", got)
			}
		})
	}
}

func TestBlend_neverLowersRuleScore(t *testing.T) {
	if got := Blend(70, 40, 1); got != 70 {
		t.Errorf("Blend(70, 40, 1) = %v, want 70", got)
	}
	for _, w := range []float64{0, 0.25, 0.5, 1} {
		for _, ml := range []float64{0, 40, 69.99, 70, 85, 100} {
			if got := Blend(70, ml, w); got < 70 {
				t.Errorf("Blend(70, %v, %v) = %v, below rule score", ml, w, got)
			}
		}
	}
	if got := Blend(20, 80, 0.5); got != 50 {
		t.Errorf("Blend(20, 80, 0.5) = %v, want 50", got)
	}
}

// ── Model ─────────────────────────────────────────────────────────────────────

func TestModelConfig_Validate(t *testing.T) {
	var nilModel *ModelConfig
	if err := nilModel.Validate(); !errors.Is(err, ErrNoModel) {
		t.Errorf("nil model: got %v, want ErrNoModel", err)
	}

	bad := []*ModelConfig{
		{FeatureNames: []string{"a"}},
		{Coefficients: []float64{1, 2}, FeatureNames: []string{"a"}},
		{Coefficients: []float64{math.NaN()}, FeatureNames: []string{"a"}},
		{Coefficients: []float64{1}, FeatureNames: []string{"a"}, Intercept: math.Inf(1)},
	}
	for i, m := range bad {
		if err := m.Validate(); !errors.Is(err, ErrInvalidModel) {
			t.Errorf("case %d: got %v, want ErrInvalidModel", i, err)
		}
	}

	if err := testModel().Validate(); err != nil {
		t.Errorf("valid model: %v", err)
	}
}

func TestModelConfig_LinearUsesShorterList(t *testing.T) {
	m := &ModelConfig{
		Coefficients: []float64{1, 1, 1},
		FeatureNames: []string{"a", "b"},
		Intercept:    0.5,
	}
	got := m.Linear(map[string]float64{"a": 1, "b": 2, "c": 100})
	if got != 3.5 {
		t.Errorf("Linear = %v, want 3.5", got)
	}

	m = &ModelConfig{Coefficients: []float64{1}, FeatureNames: []string{"a", "b"}}
	if got := m.Linear(map[string]float64{"a": 2, "b": 5}); got != 2 {
		t.Errorf("Linear = %v, want 2", got)
	}
	if got := m.Linear(map[string]float64{"a": math.NaN()}); got != 0 {
		t.Errorf("Linear with NaN feature = %v, want 0", got)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(
		map[string]float64{"a": 5, "b": 3, "c": 7},
		map[string]FeatureStat{"a": {Min: 0, Max: 10}, "b": {Min: 3, Max: 3}},
	)
	if got["a"] != 0.5 {
		t.Errorf("a = %v, want 0.5", got["a"])
	}
	if got["b"] != 0 {
		t.Errorf("degenerate range = %v, want 0", got["b"])
	}
	if got["c"] != 7 {
		t.Errorf("feature without stats = %v, want raw 7", got["c"])
	}
}

func TestFeatures(t *testing.T) {
	f := Features(Stats{
		ObservationCount:      12,
		UniqueDays:            3,
		UniqueLocations:       4,
		MaxSignalDBM:          -60,
		DistanceFromHomeKm:    0.5,
		MaxDistanceFromHomeKm: 2.5,
		SeenAtHome:            true,
		SeenAwayFromHome:      true,
	})
	want := map[string]float64{
		FeatureDistanceRange:     2,
		FeatureUniqueDays:        3,
		FeatureObservationCount:  12,
		FeatureMaxSignal:         -60,
		FeatureUniqueLocations:   4,
		FeatureSeenBothLocations: 1,
	}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("%s = %v, want %v", k, f[k], v)
		}
	}
	if len(f) != len(FeatureOrder) {
		t.Errorf("got %d features, want %d", len(f), len(FeatureOrder))
	}
}

// ── Hybrid engine ─────────────────────────────────────────────────────────────

func TestHybridEngine_singleObservationKeepsRuleScore(t *testing.T) {
	m := testModel()
	m.Intercept = 1000 // probability saturates at 1
	e, err := NewHybridEngine(m, fixedRules(37.5))
	if err != nil {
		t.Fatal(err)
	}
	r := e.Score(Stats{BSSID: "AA:BB:CC:DD:EE:FF", ObservationCount: 1, UniqueDays: 50, UniqueLocations: 50})
	if r.EvidenceWeight != 0 {
		t.Errorf("evidence weight = %v, want 0", r.EvidenceWeight)
	}
	if r.FinalScore != 37.5 {
		t.Errorf("final = %v, want rule score 37.5", r.FinalScore)
	}
	if r.MLScore != 100 || r.PrimaryClass != ClassThreat {
		t.Errorf("ml = %v class = %s", r.MLScore, r.PrimaryClass)
	}
	if r.Level != LevelLow {
		t.Errorf("level = %s, want LOW", r.Level)
	}
}

func TestHybridEngine_modelCannotLowerScore(t *testing.T) {
	m := testModel()
	m.Intercept = -1000 // probability saturates at 0
	e, err := NewHybridEngine(m, fixedRules(70))
	if err != nil {
		t.Fatal(err)
	}
	r := e.Score(Stats{ObservationCount: 500, UniqueDays: 30, UniqueLocations: 30})
	if r.FinalScore != 70 {
		t.Errorf("final = %v, want 70", r.FinalScore)
	}
	if r.Level != LevelHigh || r.PrimaryClass != ClassLegitimate {
		t.Errorf("level = %s class = %s", r.Level, r.PrimaryClass)
	}
	if r.Diagnostics.MLBoost != 0 {
		t.Errorf("boost = %v, want 0", r.Diagnostics.MLBoost)
	}
}

func TestHybridEngine_fullEvidenceTakesModelScore(t *testing.T) {
	m := testModel()
	m.Intercept = 1000
	e, err := NewHybridEngine(m, fixedRules(10))
	if err != nil {
		t.Fatal(err)
	}
	r := e.Score(Stats{ObservationCount: 30, UniqueDays: 7, UniqueLocations: 5})
	if r.FinalScore != 100 || r.Level != LevelCritical {
		t.Errorf("final = %v level = %s", r.FinalScore, r.Level)
	}
	if r.Diagnostics.MLBoost != 90 {
		t.Errorf("boost = %v, want 90", r.Diagnostics.MLBoost)
	}
}

func TestHybridEngine_deterministic(t *testing.T) {
	e := mustEngine(t, testModel())
	s := Stats{
		BSSID:                 "00:11:22:33:44:55",
		ObservationCount:      42,
		UniqueDays:            5,
		UniqueLocations:       3,
		MaxSignalDBM:          -45,
		DistanceFromHomeKm:    0.05,
		MaxDistanceFromHomeKm: 3.2,
		SeenAtHome:            true,
		SeenAwayFromHome:      true,
	}
	a, b := e.Score(s), e.Score(s)
	if a.FinalScore != b.FinalScore || a.Level != b.Level || a.Probability != b.Probability {
		t.Errorf("scores differ: %+v vs %+v", a, b)
	}
	if a.FinalScore < a.RuleScore {
		t.Errorf("final %v below rule %v", a.FinalScore, a.RuleScore)
	}
	if a.Level != LevelFor(a.FinalScore) {
		t.Errorf("level %s does not match final %v", a.Level, a.FinalScore)
	}
}

func TestHybridEngine_rounding(t *testing.T) {
	e := mustEngine(t, &ModelConfig{
		Coefficients: []float64{0},
		FeatureNames: []string{FeatureUniqueDays},
		Intercept:    0.3,
	})
	r := e.Evaluate(Stats{}, RuleReport{Score: 12.3456})
	if r.RuleScore != 12.35 {
		t.Errorf("rule = %v, want 12.35", r.RuleScore)
	}
	if r.Probability != 0.574 {
		t.Errorf("probability = %v, want 0.574", r.Probability)
	}
	if r.MLScore != 57.44 {
		t.Errorf("ml = %v, want 57.44", r.MLScore)
	}
}

func TestHybridEngine_clampsRuleScore(t *testing.T) {
	e := mustEngine(t, testModel())
	for _, rule := range []float64{math.NaN(), math.Inf(1), -5, 250} {
		r := e.Evaluate(Stats{}, RuleReport{Score: rule})
		if math.IsNaN(r.FinalScore) || r.FinalScore < 0 || r.FinalScore > 100 {
			t.Errorf("rule %v: final = %v", rule, r.FinalScore)
		}
	}
}

func TestNewHybridEngine_rejectsBadModel(t *testing.T) {
	if _, err := NewHybridEngine(nil, nil); !errors.Is(err, ErrNoModel) {
		t.Errorf("got %v, want ErrNoModel", err)
	}
	if _, err := NewHybridEngine(&ModelConfig{}, nil); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("got %v, want ErrInvalidModel", err)
	}
}

// ── Rule scorer ───────────────────────────────────────────────────────────────

func TestRuleBasedScorer_noFindings(t *testing.T) {
	r := NewRuleBasedScorer().Score(Stats{ObservationCount: 1, UniqueDays: 1, MaxSignalDBM: -90})
	if r.Score != 0 {
		t.Errorf("score = %v, want 0", r.Score)
	}
	if r.Findings == nil || len(r.Findings) != 0 {
		t.Errorf("findings = %v, want empty non-nil", r.Findings)
	}
}

func TestRuleBasedScorer_rules(t *testing.T) {
	cases := []struct {
		name  string
		stats Stats
		rule  string
		pts   float64
	}{
		{"home and away", Stats{SeenAtHome: true, SeenAwayFromHome: true, MaxSignalDBM: -90}, "home_and_away", 40},
		{"distance range", Stats{DistanceFromHomeKm: 1, MaxDistanceFromHomeKm: 1.5}, "distance_range", 25},
		{"two days", Stats{UniqueDays: 2}, "multi_day", 5},
		{"week", Stats{UniqueDays: 9}, "multi_day", 15},
		{"volume", Stats{ObservationCount: 25}, "observation_volume", 5},
		{"strong away", Stats{SeenAwayFromHome: true, MaxSignalDBM: -40}, "strong_signal_away", 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRuleBasedScorer().Score(tc.stats)
			if len(r.Findings) != 1 {
				t.Fatalf("findings = %+v, want exactly one", r.Findings)
			}
			if r.Findings[0].Rule != tc.rule || r.Findings[0].Points != tc.pts {
				t.Errorf("finding = %+v", r.Findings[0])
			}
			if r.Score != tc.pts {
				t.Errorf("score = %v, want %v", r.Score, tc.pts)
			}
		})
	}
}

func TestRuleBasedScorer_caps(t *testing.T) {
	r := NewRuleBasedScorer().Score(Stats{
		ObservationCount:      200,
		UniqueDays:            30,
		MaxSignalDBM:          -30,
		DistanceFromHomeKm:    0,
		MaxDistanceFromHomeKm: 12,
		SeenAtHome:            true,
		SeenAwayFromHome:      true,
	})
	// 40 + 25 + 15 + 10 + 10
	if r.Score != 100 {
		t.Errorf("score = %v, want 100", r.Score)
	}
	if len(r.Findings) != 5 {
		t.Errorf("got %d findings, want 5", len(r.Findings))
	}
}
