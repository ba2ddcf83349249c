// Command shadowctl is the operator CLI: batch scoring, filter compilation,
// record classification and threat model management.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/config"
	"github.com/shadowcheck/shadowcheck/internal/events"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shadowctl",
	Short: "ShadowCheck operator CLI",
	Long: `shadowctl operates a ShadowCheck deployment.

It runs the batch threat scorer, compiles explorer filters to SQL,
classifies radio records and manages the threat model.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		logger, err = config.NewLogger("development", level, "console")
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./shadowcheck.yaml or configs/shadowcheck.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shadowctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shadowctl %s\n", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

// connect opens and pings the configured database.
func connect(ctx context.Context) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// publisher builds the configured event sinks. The returned func closes them.
func publisher() (events.Publisher, func()) {
	var sinks events.Multi
	var closers []func() error
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		sinks = append(sinks, kp)
		closers = append(closers, kp.Close)
	}
	if len(cfg.Webhooks.URLs) > 0 {
		sinks = append(sinks, events.NewWebhookPublisher(cfg.Webhooks.URLs, cfg.Webhooks.Secret, logger))
	}
	return sinks, func() {
		for _, c := range closers {
			_ = c()
		}
	}
}

// readArg returns s, or the contents of the file named after a leading '@'.
func readArg(s string) ([]byte, error) {
	if name, ok := strings.CutPrefix(s, "@"); ok {
		return os.ReadFile(name)
	}
	return []byte(s), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
