package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shadowcheck/shadowcheck/internal/audit"
	"github.com/shadowcheck/shadowcheck/internal/events"
	"github.com/shadowcheck/shadowcheck/internal/explorer/repository"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect and import the threat model",
}

func init() {
	modelCmd.AddCommand(modelShowCmd)
	modelCmd.AddCommand(modelImportCmd)
}

// ── model show ───────────────────────────────────────────────────────────────

var modelShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored model and its normalization stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		m, err := repository.NewScoreRepository(db, logger).LoadModel(ctx, cfg.Scoring.ModelType)
		if err != nil {
			return err
		}
		return printJSON(cmd, m)
	},
}

// ── model import ─────────────────────────────────────────────────────────────

var modelImportCmd = &cobra.Command{
	Use:   "import <model.json>",
	Short: "Validate and store a trained model",
	Long: `import reads a model document:

  {
    "model_type": "threat_logistic_regression",
    "version": "2.0.0",
    "coefficients": [0.8, 0.4, 0.2, 0.1, 0.3, 1.2],
    "intercept": -1.5,
    "feature_names": ["distance_range_km", "unique_days", "observation_count",
                      "max_signal", "unique_locations", "seen_both_locations"],
    "normalization_stats": {"unique_days": {"min": 1, "max": 222}}
  }

and replaces the stored model of the same type. The model is validated
first; an invalid model is never stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runModelImport,
}

func loadModelFile(name string) (*threat.ModelConfig, error) {
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var m threat.ModelConfig
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if m.ModelType == "" {
		m.ModelType = cfg.Scoring.ModelType
	}
	return &m, m.Validate()
}

func runModelImport(cmd *cobra.Command, args []string) error {
	m, err := loadModelFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repository.NewScoreRepository(db, logger).SaveModel(ctx, m); err != nil {
		return err
	}
	if _, err := audit.NewPostgresLog(db, logger).Append(ctx, m.ModelType, audit.ActionModelImport, "shadowctl", m); err != nil {
		return fmt.Errorf("model stored but audit append failed: %w", err)
	}

	pub, closePub := publisher()
	defer closePub()
	if err := pub.Publish(ctx, events.NewModelImported(m)); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %s %s (%d features)\n", m.ModelType, m.Version, len(m.Coefficients))
	return nil
}

// ── evaluate ─────────────────────────────────────────────────────────────────

var (
	evaluateModel string
	evaluateStats string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score access point statistics without touching stored scores",
	Long: `evaluate runs the hybrid engine on one statistics object, or an array of
them, and prints each result with its diagnostics. The model comes from
--model, or from the database when --model is omitted:

  shadowctl evaluate --model model.json --stats '{"bssid":"AA:BB:CC:DD:EE:FF","observation_count":40,"unique_days":9,"unique_locations":6}'`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateModel, "model", "", "model JSON file (default: stored model)")
	evaluateCmd.Flags().StringVar(&evaluateStats, "stats", "", "statistics JSON object or array, or @file")
	_ = evaluateCmd.MarkFlagRequired("stats")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	raw, err := readArg(evaluateStats)
	if err != nil {
		return err
	}
	var batch []threat.Stats
	if err := json.Unmarshal(raw, &batch); err != nil {
		var one threat.Stats
		if err := json.Unmarshal(raw, &one); err != nil {
			return fmt.Errorf("parse stats: %w", err)
		}
		batch = []threat.Stats{one}
	}

	var m *threat.ModelConfig
	if evaluateModel != "" {
		if m, err = loadModelFile(evaluateModel); err != nil {
			return err
		}
	} else {
		ctx := cmd.Context()
		db, err := connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		if m, err = repository.NewScoreRepository(db, logger).LoadModel(ctx, cfg.Scoring.ModelType); err != nil {
			return err
		}
	}

	engine, err := threat.NewHybridEngine(m, nil)
	if err != nil {
		return err
	}
	results := make([]threat.Result, 0, len(batch))
	for _, s := range batch {
		results = append(results, engine.Score(s))
	}
	if len(results) == 1 {
		return printJSON(cmd, results[0])
	}
	return printJSON(cmd, results)
}
