package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// appendLockKey serialises Append across server and CLI processes.
const appendLockKey = int64(5_117_220_432)

const recordColumns = `seq, at, subject, action, actor, digest, prev_hash, hash`

// PostgresLog stores the chain in the scoring_audit table. The genesis row is
// inserted by the migration.
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLog creates a PostgresLog backed by pool.
func NewPostgresLog(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLog {
	return &PostgresLog{pool: pool, logger: logger}
}

// Append implements Log. Reading the tail and inserting the new row happen in
// one transaction under an advisory lock.
func (l *PostgresLog) Append(ctx context.Context, subject, action, actor string, payload any) (*Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevSeq int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT seq, hash FROM scoring_audit ORDER BY seq DESC LIMIT 1",
	).Scan(&prevSeq, &prevHash); err != nil {
		return nil, fmt.Errorf("read audit tail: %w", err)
	}

	r := &Record{
		Seq:      prevSeq + 1,
		At:       time.Now().UTC().Truncate(time.Microsecond),
		Subject:  subject,
		Action:   action,
		Actor:    actor,
		Digest:   digest(body),
		PrevHash: prevHash,
	}
	r.Hash = hashRecord(r)

	if _, err := tx.Exec(ctx,
		`INSERT INTO scoring_audit (`+recordColumns+`, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.Seq, r.At, r.Subject, r.Action, r.Actor, r.Digest, r.PrevHash, r.Hash, body,
	); err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit tx: %w", err)
	}

	l.logger.Debug("audit record appended",
		zap.Int("seq", r.Seq),
		zap.String("action", r.Action),
		zap.String("subject", r.Subject),
	)
	return r, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	r := &Record{}
	err := row.Scan(&r.Seq, &r.At, &r.Subject, &r.Action, &r.Actor, &r.Digest, &r.PrevHash, &r.Hash)
	return r, err
}

// Get implements Log.
func (l *PostgresLog) Get(ctx context.Context, seq int) (*Record, error) {
	r, err := scanRecord(l.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM scoring_audit WHERE seq = $1`, seq))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("seq %d out of range", seq)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit record %d: %w", seq, err)
	}
	return r, nil
}

// Len implements Log.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM scoring_audit").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

// Verify implements Log. It streams every row in seq order.
func (l *PostgresLog) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx, `SELECT `+recordColumns+` FROM scoring_audit ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var prev *Record
	for rows.Next() {
		curr, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan audit row: %w", err)
		}
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Head implements Log.
func (l *PostgresLog) Head(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM scoring_audit ORDER BY seq DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get audit head: %w", err)
	}
	return hash, nil
}
