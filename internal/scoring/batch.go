package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// ErrRunInProgress is returned when a scoring run is already active.
var ErrRunInProgress = errors.New("scoring run already in progress")

// Defaults.
const (
	DefaultPageSize     = 2000
	DefaultModelVersion = "1.0.0"
)

// Config holds batch scorer configuration.
type Config struct {
	PageSize  int
	ModelType string
	// ModelVersion overrides the version stored with the model.
	ModelVersion string
}

// Summary describes one scoring run.
type Summary struct {
	RunID        uuid.UUID            `json:"run_id"`
	ModelType    string               `json:"model_type"`
	ModelVersion string               `json:"model_version"`
	ScoredAt     time.Time            `json:"scored_at"`
	Processed    int                  `json:"processed"`
	Pages        int                  `json:"pages"`
	LastBSSID    string               `json:"last_bssid"`
	Levels       map[threat.Level]int `json:"levels"`
	Duration     time.Duration        `json:"duration"`
}

// CompletionFunc is an optional callback invoked after a run finishes
// successfully.
type CompletionFunc func(ctx context.Context, s Summary)

// MetricsRecordFunc is an optional callback for recording run results. s is
// nil when the run failed before scoring began.
type MetricsRecordFunc func(s *Summary, err error)

// BatchScorer scores every access point in keyset pages. Only one run may be
// active per scorer; stores implementing Locker extend that across processes.
type BatchScorer struct {
	store     Store
	rules     threat.RuleScorer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
	running   atomic.Bool
	onDone    []CompletionFunc
	onMetrics MetricsRecordFunc
}

// NewBatchScorer creates a BatchScorer. A nil rules uses the default rule set.
func NewBatchScorer(store Store, rules threat.RuleScorer, cfg Config, logger *zap.Logger) *BatchScorer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.ModelType == "" {
		cfg.ModelType = threat.DefaultModelType
	}
	if rules == nil {
		rules = threat.NewRuleBasedScorer()
	}
	return &BatchScorer{
		store:  store,
		rules:  rules,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnComplete registers a callback run after each successful run.
func (b *BatchScorer) OnComplete(fn CompletionFunc) {
	b.onDone = append(b.onDone, fn)
}

// SetMetricsRecord configures the metrics recording callback.
func (b *BatchScorer) SetMetricsRecord(fn MetricsRecordFunc) {
	b.onMetrics = fn
}

// Running reports whether a run is active.
func (b *BatchScorer) Running() bool { return b.running.Load() }

// Run scores the full population once. Every record of the run shares one
// model version and scoredAt. A missing or unusable model aborts the run
// before any score is written. A failure mid-run aborts it; pages already
// written stay written. Cancelling ctx stops the run between pages.
func (b *BatchScorer) Run(ctx context.Context) (*Summary, error) {
	if !b.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer b.running.Store(false)

	sum, err := b.run(ctx)
	if b.onMetrics != nil {
		b.onMetrics(sum, err)
	}
	if err != nil {
		return sum, err
	}
	for _, fn := range b.onDone {
		fn(ctx, *sum)
	}
	return sum, nil
}

func (b *BatchScorer) run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	if l, ok := b.store.(Locker); ok {
		release, acquired, err := l.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire scoring lock: %w", err)
		}
		if !acquired {
			return nil, ErrRunInProgress
		}
		defer release()
	}

	model, err := b.store.LoadModel(ctx, b.cfg.ModelType)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", b.cfg.ModelType, err)
	}
	engine, err := threat.NewHybridEngine(model, b.rules)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", b.cfg.ModelType, err)
	}

	version := b.cfg.ModelVersion
	if version == "" {
		version = model.Version
	}
	if version == "" {
		version = DefaultModelVersion
	}

	sum := &Summary{
		RunID:        uuid.New(),
		ModelType:    b.cfg.ModelType,
		ModelVersion: version,
		ScoredAt:     b.now(),
		Levels:       make(map[threat.Level]int),
	}
	log := b.logger.With(zap.String("run_id", sum.RunID.String()), zap.String("model_version", version))
	log.Info("scoring: run started", zap.Int("page_size", b.cfg.PageSize))

	cur := NewCursor(b.store, "", b.cfg.PageSize)
	for {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, fmt.Errorf("scoring stopped after %d networks: %w", sum.Processed, err)
		}

		page, err := cur.Next(ctx)
		if err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		if len(page) == 0 {
			break
		}

		records := make([]Record, 0, len(page))
		for _, st := range page {
			rec := NewRecord(engine.Score(st), version, sum.ScoredAt)
			records = append(records, rec)
		}
		if err := b.store.UpsertScores(ctx, records); err != nil {
			sum.Duration = time.Since(start)
			return sum, fmt.Errorf("upsert page %d after %q: %w", cur.Pages(), sum.LastBSSID, err)
		}

		for _, rec := range records {
			sum.Levels[rec.FinalLevel]++
		}
		sum.Processed += len(records)
		sum.Pages = cur.Pages()
		sum.LastBSSID = cur.After()
		log.Debug("scoring: page written",
			zap.Int("page", sum.Pages),
			zap.Int("networks", len(records)),
			zap.String("last_bssid", sum.LastBSSID),
		)
	}

	sum.Duration = time.Since(start)
	log.Info("scoring: run finished",
		zap.Int("processed", sum.Processed),
		zap.Int("pages", sum.Pages),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}
