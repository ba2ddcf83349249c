// Package audit keeps a hash-chained log of scoring activity: completed runs
// and model imports. Each record stores the SHA-256 of its predecessor, so a
// rewritten or removed record breaks Verify.
//
// The chain starts at a fixed genesis record whose Hash is GenesisHash.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shadowcheck/shadowcheck/internal/scoring"
)

// GenesisHash is the hash of record 0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Actions.
const (
	ActionGenesis     = "genesis"
	ActionScoringRun  = "scoring_run"
	ActionModelImport = "model_import"
)

// SystemActor is recorded for actions taken by the server itself.
const SystemActor = "shadowcheck"

// Record is one entry in the audit chain.
type Record struct {
	Seq      int       `json:"seq"`
	At       time.Time `json:"at"`
	Subject  string    `json:"subject"` // run ID or model type
	Action   string    `json:"action"`
	Actor    string    `json:"actor"`
	Digest   string    `json:"digest"` // SHA-256 of the JSON payload
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

// Log is an append-only audit chain.
type Log interface {
	Append(ctx context.Context, subject, action, actor string, payload any) (*Record, error)
	Get(ctx context.Context, seq int) (*Record, error)
	Len(ctx context.Context) (int, error)
	// Verify walks the chain; nil means it is intact.
	Verify(ctx context.Context) error
	// Head returns the hash of the newest record.
	Head(ctx context.Context) (string, error)
}

// hashRecord must never be called on the genesis record.
func hashRecord(r *Record) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		r.Seq, r.At.UTC().Format(time.RFC3339Nano),
		r.Subject, r.Action, r.Actor, r.Digest, r.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func digest(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// verifyLink checks curr against its predecessor. prev is nil for genesis.
func verifyLink(prev, curr *Record) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis record has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at seq %d", curr.Seq)
	}
	if curr.Hash != hashRecord(curr) {
		return fmt.Errorf("record %d has invalid hash", curr.Seq)
	}
	return nil
}

// State is the length and head hash of a chain.
type State struct {
	Records int    `json:"records"`
	Head    string `json:"head"`
}

// Inspect returns the current State of l.
func Inspect(ctx context.Context, l Log) (State, error) {
	n, err := l.Len(ctx)
	if err != nil {
		return State{}, err
	}
	head, err := l.Head(ctx)
	if err != nil {
		return State{}, err
	}
	return State{Records: n, Head: head}, nil
}

// StartupCheck verifies l and logs the outcome. The returned error is for
// the caller to decide on; a broken chain does not stop scoring.
func StartupCheck(ctx context.Context, l Log, logger *zap.Logger) error {
	if err := l.Verify(ctx); err != nil {
		logger.Warn("scoring audit integrity check FAILED", zap.Error(err))
		return err
	}
	st, err := Inspect(ctx, l)
	if err != nil {
		logger.Warn("scoring audit state unavailable", zap.Error(err))
		return err
	}
	logger.Info("scoring audit verified", zap.Int("records", st.Records), zap.String("head", st.Head))
	return nil
}

// RunHook records every completed scoring run in l.
func RunHook(l Log, logger *zap.Logger) scoring.CompletionFunc {
	return func(ctx context.Context, s scoring.Summary) {
		if _, err := l.Append(ctx, s.RunID.String(), ActionScoringRun, SystemActor, s); err != nil {
			logger.Warn("audit: record scoring run",
				zap.String("run_id", s.RunID.String()),
				zap.Error(err),
			)
		}
	}
}
