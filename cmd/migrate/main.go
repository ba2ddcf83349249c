// cmd/migrate brings the shadowcheck schema up to date by applying each
// pending NNN_name.up.sql file from the migrations directory. Applied
// versions and their checksums live in shadowcheck_schema_versions; each file
// runs in its own transaction together with its version row.
//
// Usage:
//
//	go run ./cmd/migrate
//	DATABASE_URL=postgres://... go run ./cmd/migrate -dir migrations
//	go run ./cmd/migrate -status
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/config"
)

const versionsDDL = `
CREATE TABLE IF NOT EXISTS shadowcheck_schema_versions (
	version    BIGINT      PRIMARY KEY,
	name       TEXT        NOT NULL,
	checksum   TEXT        NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	dir := flag.String("dir", "migrations", "directory holding NNN_name.up.sql files")
	file := flag.String("config", os.Getenv("SHADOWCHECK_CONFIG"), "config file")
	status := flag.Bool("status", false, "list pending migrations without applying them")
	flag.Parse()

	cfg, err := config.Load(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.Log.Env, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(context.Background(), cfg.Database.URL, *dir, *status, logger); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}
}

func run(ctx context.Context, url, dir string, statusOnly bool, logger *zap.Logger) error {
	all, err := discover(os.DirFS(dir))
	if err != nil {
		return err
	}

	db, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.Exec(ctx, versionsDDL); err != nil {
		return fmt.Errorf("create shadowcheck_schema_versions: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	todo, err := pending(all, applied)
	if err != nil {
		return err
	}

	if statusOnly || len(todo) == 0 {
		for _, m := range todo {
			logger.Info("migration pending", zap.Int64("version", m.Version), zap.String("name", m.Name))
		}
		logger.Info("schema status", zap.Int("applied", len(applied)), zap.Int("pending", len(todo)))
		return nil
	}

	for _, m := range todo {
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
		}
		logger.Info("migration applied", zap.Int64("version", m.Version), zap.String("name", m.Name))
	}
	logger.Info("schema up to date", zap.Int("applied_now", len(todo)))
	return nil
}

func appliedVersions(ctx context.Context, db *pgxpool.Pool) (map[int64]string, error) {
	rows, err := db.Query(ctx, `SELECT version, checksum FROM shadowcheck_schema_versions`)
	if err != nil {
		return nil, fmt.Errorf("list applied versions: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var v int64
		var sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		out[v] = sum
	}
	return out, rows.Err()
}

// apply runs m and records its version in one transaction. The table lock
// serialises concurrent migrators; a version recorded while we waited is
// left alone.
func apply(ctx context.Context, db *pgxpool.Pool, m migration) error {
	return pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `LOCK TABLE shadowcheck_schema_versions IN EXCLUSIVE MODE`); err != nil {
			return err
		}
		var done bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM shadowcheck_schema_versions WHERE version = $1)`, m.Version,
		).Scan(&done); err != nil {
			return err
		}
		if done {
			return nil
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO shadowcheck_schema_versions (version, name, checksum) VALUES ($1, $2, $3)`,
			m.Version, m.Name, m.Checksum)
		return err
	})
}
