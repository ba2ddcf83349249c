package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/audit"
	"github.com/shadowcheck/shadowcheck/internal/cache"
	"github.com/shadowcheck/shadowcheck/internal/events"
	"github.com/shadowcheck/shadowcheck/internal/explorer/repository"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

var (
	scorePageSize     int
	scoreModelType    string
	scoreModelVersion string
	scoreFormat       string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score every access point with the hybrid threat model",
	Long: `score runs one batch scoring pass over all access points, writing
network_threat_scores page by page. Only one pass runs at a time across all
processes; a concurrent pass fails with "scoring run already in progress".

Interrupting the command stops it after the current page.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().IntVar(&scorePageSize, "page-size", 0, "access points per page (default from config)")
	scoreCmd.Flags().StringVar(&scoreModelType, "model-type", "", "model to load (default from config)")
	scoreCmd.Flags().StringVar(&scoreModelVersion, "model-version", "", "version stamped on scores (default: stored model version)")
	scoreCmd.Flags().StringVar(&scoreFormat, "format", "text", "Output format: text or json")
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := connect(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	sc := cfg.Scoring.ScorerConfig()
	if scorePageSize > 0 {
		sc.PageSize = scorePageSize
	}
	if scoreModelType != "" {
		sc.ModelType = scoreModelType
	}
	if scoreModelVersion != "" {
		sc.ModelVersion = scoreModelVersion
	}

	scorer := scoring.NewBatchScorer(repository.NewScoreRepository(db, logger), nil, sc, logger)
	scorer.OnComplete(audit.RunHook(audit.NewPostgresLog(db, logger), logger))

	pub, closePub := publisher()
	defer closePub()
	scorer.OnComplete(events.CompletionHook(pub, logger))

	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedis(cache.RedisOptions{URL: cfg.Redis.URL, TTL: cfg.Explorer.CacheTTL})
		if err != nil {
			logger.Warn("explorer cache unreachable; cached pages expire on their own", zap.Error(err))
		} else {
			defer rc.Close() //nolint:errcheck
			scorer.OnComplete(func(ctx context.Context, _ scoring.Summary) {
				if err := rc.Invalidate(ctx); err != nil {
					logger.Warn("invalidate explorer cache", zap.Error(err))
				}
			})
		}
	}

	sum, err := scorer.Run(ctx)
	if err != nil {
		if sum != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "scored %d networks before failure\n", sum.Processed)
		}
		return err
	}

	if scoreFormat == "json" {
		return printJSON(cmd, sum)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "RUN\t%s\n", sum.RunID)
	fmt.Fprintf(w, "MODEL\t%s %s\n", sum.ModelType, sum.ModelVersion)
	fmt.Fprintf(w, "PROCESSED\t%d (%d pages)\n", sum.Processed, sum.Pages)
	fmt.Fprintf(w, "DURATION\t%s\n", sum.Duration)
	for _, l := range threat.Levels {
		fmt.Fprintf(w, "%s\t%d\n", l, sum.Levels[l])
	}
	return w.Flush()
}
