package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/scoring"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// scoringLockKey is a stable PostgreSQL advisory lock key held for the whole
// of a scoring run. It must be the same for every scorer process.
const scoringLockKey = int64(5_117_220_431)

// maxBSSIDLen filters malformed identifiers out of scoring.
const maxBSSIDLen = 17

// ScoreRepository persists threat scores and models. It implements
// scoring.Store and scoring.Locker.
type ScoreRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewScoreRepository creates a ScoreRepository backed by the given pool.
func NewScoreRepository(db *pgxpool.Pool, logger *zap.Logger) *ScoreRepository {
	return &ScoreRepository{db: db, logger: logger}
}

// TryLock implements scoring.Locker with a session-level advisory lock held
// on a dedicated connection until release is called.
func (r *ScoreRepository) TryLock(ctx context.Context) (func(), bool, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", scoringLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", scoringLockKey); err != nil {
			r.logger.Warn("scoring: release advisory lock", zap.Error(err))
		}
		conn.Release()
	}
	return release, true, nil
}

// LoadModel implements scoring.Store.
func (r *ScoreRepository) LoadModel(ctx context.Context, modelType string) (*threat.ModelConfig, error) {
	m := &threat.ModelConfig{ModelType: modelType}
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(version, ''), coefficients, intercept, feature_names
		FROM ml_model_config
		WHERE model_type = $1`, modelType,
	).Scan(&m.Version, &m.Coefficients, &m.Intercept, &m.FeatureNames)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: model type %q", threat.ErrNoModel, modelType)
	}
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT feature_name, min_value, max_value
		FROM ml_feature_stats
		WHERE model_type = $1`, modelType)
	if err != nil {
		return nil, fmt.Errorf("load feature stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var st threat.FeatureStat
		if err := rows.Scan(&name, &st.Min, &st.Max); err != nil {
			return nil, fmt.Errorf("scan feature stat: %w", err)
		}
		if m.Stats == nil {
			m.Stats = make(map[string]threat.FeatureStat)
		}
		m.Stats[name] = st
	}
	return m, rows.Err()
}

// SaveModel stores m and its normalization stats, replacing any model of the
// same type.
func (r *ScoreRepository) SaveModel(ctx context.Context, m *threat.ModelConfig) error {
	if err := m.Validate(); err != nil {
		return err
	}
	coeffs, err := json.Marshal(m.Coefficients)
	if err != nil {
		return fmt.Errorf("marshal coefficients: %w", err)
	}
	names, err := json.Marshal(m.FeatureNames)
	if err != nil {
		return fmt.Errorf("marshal feature names: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		INSERT INTO ml_model_config (model_type, version, coefficients, intercept, feature_names, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (model_type) DO UPDATE SET
			version       = EXCLUDED.version,
			coefficients  = EXCLUDED.coefficients,
			intercept     = EXCLUDED.intercept,
			feature_names = EXCLUDED.feature_names,
			updated_at    = NOW()`,
		m.ModelType, m.Version, coeffs, m.Intercept, names,
	); err != nil {
		return fmt.Errorf("upsert model: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM ml_feature_stats WHERE model_type = $1`, m.ModelType); err != nil {
		return fmt.Errorf("clear feature stats: %w", err)
	}
	for name, st := range m.Stats {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ml_feature_stats (model_type, feature_name, min_value, max_value)
			VALUES ($1, $2, $3, $4)`,
			m.ModelType, name, st.Min, st.Max,
		); err != nil {
			return fmt.Errorf("insert feature stat %s: %w", name, err)
		}
	}
	return tx.Commit(ctx)
}

// AccessPointsAfter implements scoring.Store. Pages follow byte order
// regardless of the database collation.
func (r *ScoreRepository) AccessPointsAfter(ctx context.Context, after string, limit int) ([]threat.Stats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT
			bssid,
			observation_count,
			unique_days,
			unique_locations,
			COALESCE(max_signal_dbm, -100),
			COALESCE(distance_from_home_km, 0),
			COALESCE(max_distance_from_home_km, 0),
			seen_at_home,
			seen_away_from_home
		FROM access_points
		WHERE bssid COLLATE "C" > $1
		  AND LENGTH(bssid) <= $2
		  AND observation_count > 0
		ORDER BY bssid COLLATE "C"
		LIMIT $3`,
		after, maxBSSIDLen, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("page access points: %w", err)
	}
	defer rows.Close()

	var page []threat.Stats
	for rows.Next() {
		var s threat.Stats
		if err := rows.Scan(
			&s.BSSID, &s.ObservationCount, &s.UniqueDays, &s.UniqueLocations,
			&s.MaxSignalDBM, &s.DistanceFromHomeKm, &s.MaxDistanceFromHomeKm,
			&s.SeenAtHome, &s.SeenAwayFromHome,
		); err != nil {
			return nil, fmt.Errorf("scan access point: %w", err)
		}
		page = append(page, s)
	}
	return page, rows.Err()
}

const upsertScore = `
	INSERT INTO network_threat_scores (
		bssid, ml_threat_score, ml_threat_probability, ml_primary_class,
		ml_feature_values, rule_based_score, final_threat_score, final_threat_level,
		model_version, scored_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (bssid) DO UPDATE SET
		ml_threat_score       = EXCLUDED.ml_threat_score,
		ml_threat_probability = EXCLUDED.ml_threat_probability,
		ml_primary_class      = EXCLUDED.ml_primary_class,
		ml_feature_values     = EXCLUDED.ml_feature_values,
		rule_based_score      = EXCLUDED.rule_based_score,
		final_threat_score    = EXCLUDED.final_threat_score,
		final_threat_level    = EXCLUDED.final_threat_level,
		model_version         = EXCLUDED.model_version,
		scored_at             = EXCLUDED.scored_at,
		updated_at            = EXCLUDED.updated_at`

// UpsertScores implements scoring.Store. The page is written in a single
// transaction.
func (r *ScoreRepository) UpsertScores(ctx context.Context, records []scoring.Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range records {
		diag, err := json.Marshal(rec.MLFeatures)
		if err != nil {
			return fmt.Errorf("marshal diagnostics for %s: %w", rec.BSSID, err)
		}
		batch.Queue(upsertScore,
			rec.BSSID, rec.MLScore, rec.MLProbability, rec.MLPrimaryClass,
			diag, rec.RuleScore, rec.FinalScore, string(rec.FinalLevel),
			rec.ModelVersion, rec.ScoredAt, rec.UpdatedAt,
		)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert scores: %w", err)
	}
	return tx.Commit(ctx)
}

// GetScore returns the persisted score record for bssid.
func (r *ScoreRepository) GetScore(ctx context.Context, bssid string) (*scoring.Record, error) {
	var rec scoring.Record
	var diag []byte
	var level string
	err := r.db.QueryRow(ctx, `
		SELECT bssid, ml_threat_score, ml_threat_probability, ml_primary_class,
		       ml_feature_values, rule_based_score, final_threat_score, final_threat_level,
		       model_version, scored_at, updated_at
		FROM network_threat_scores
		WHERE UPPER(bssid) = UPPER($1)`, bssid,
	).Scan(
		&rec.BSSID, &rec.MLScore, &rec.MLProbability, &rec.MLPrimaryClass,
		&diag, &rec.RuleScore, &rec.FinalScore, &level,
		&rec.ModelVersion, &rec.ScoredAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}
	rec.FinalLevel = threat.Level(level)
	if len(diag) > 0 {
		if err := json.Unmarshal(diag, &rec.MLFeatures); err != nil {
			return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
		}
	}
	return &rec, nil
}

// LevelCounts returns the number of scored networks per threat level.
func (r *ScoreRepository) LevelCounts(ctx context.Context) (map[threat.Level]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT final_threat_level, COUNT(*)
		FROM network_threat_scores
		GROUP BY final_threat_level`)
	if err != nil {
		return nil, fmt.Errorf("count levels: %w", err)
	}
	defer rows.Close()

	counts := make(map[threat.Level]int64, len(threat.Levels))
	for _, l := range threat.Levels {
		counts[l] = 0
	}
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan level count: %w", err)
		}
		counts[threat.Level(level)] = n
	}
	return counts, rows.Err()
}
