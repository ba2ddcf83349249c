// Package scoring drives the hybrid threat engine over the whole access point
// population and persists one score record per network.
package scoring

import (
	"context"
	"time"

	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// Store is the persistence the batch scorer needs.
type Store interface {
	// LoadModel returns the stored model of the given type, or an error
	// wrapping threat.ErrNoModel when none exists.
	LoadModel(ctx context.Context, modelType string) (*threat.ModelConfig, error)
	// AccessPointsAfter returns up to limit access points with a bssid
	// strictly greater than after, in ascending bssid order.
	AccessPointsAfter(ctx context.Context, after string, limit int) ([]threat.Stats, error)
	// UpsertScores writes records atomically: either every record of the
	// page is stored or none is.
	UpsertScores(ctx context.Context, records []Record) error
}

// Locker is implemented by stores that can keep a second scorer process off
// the same population. TryLock reports false when another run holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// Record is one row of network_threat_scores.
type Record struct {
	BSSID          string             `json:"bssid"`
	MLScore        float64            `json:"ml_threat_score"`
	MLProbability  float64            `json:"ml_threat_probability"`
	MLPrimaryClass string             `json:"ml_primary_class"`
	MLFeatures     threat.Diagnostics `json:"ml_feature_values"`
	RuleScore      float64            `json:"rule_based_score"`
	FinalScore     float64            `json:"final_threat_score"`
	FinalLevel     threat.Level       `json:"final_threat_level"`
	ModelVersion   string             `json:"model_version"`
	ScoredAt       time.Time          `json:"scored_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// NewRecord stamps an engine result with the run's model version and time.
func NewRecord(r threat.Result, modelVersion string, at time.Time) Record {
	return Record{
		BSSID:          r.BSSID,
		MLScore:        r.MLScore,
		MLProbability:  r.Probability,
		MLPrimaryClass: r.PrimaryClass,
		MLFeatures:     r.Diagnostics,
		RuleScore:      r.RuleScore,
		FinalScore:     r.FinalScore,
		FinalLevel:     r.Level,
		ModelVersion:   modelVersion,
		ScoredAt:       at,
		UpdatedAt:      at,
	}
}
