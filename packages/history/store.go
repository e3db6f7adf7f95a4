// Package history keeps a SQLite record of finished batches and their
// per-account outcomes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okx/sweeper/packages/stats"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and ensures the tables exist.
// Pass ":memory:" for an in-memory database.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batches (
			run_id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			total INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			total_sent TEXT NOT NULL,
			total_gas_used INTEGER NOT NULL,
			total_delay_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_started_at ON batches(started_at)`,

		`CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT NOT NULL,
			account_index INTEGER NOT NULL,
			kind TEXT NOT NULL,
			address TEXT NOT NULL,
			amount TEXT,
			gas_used INTEGER,
			tx_hash TEXT,
			reserved TEXT,
			reason TEXT,
			balance TEXT,
			minimum TEXT,
			PRIMARY KEY (run_id, account_index),
			FOREIGN KEY (run_id) REFERENCES batches(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_kind ON outcomes(kind)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// SaveBatch stores the summary and every outcome of b in one transaction.
// label tells passes of the same session apart, e.g. "initial" or "retry".
func (s *Store) SaveBatch(ctx context.Context, b *stats.Batch, label string) error {
	sum := b.Summary()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches
		(run_id, label, started_at, ended_at, total, succeeded, failed, skipped,
		 total_sent, total_gas_used, total_delay_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		sum.RunID, label, sum.Started.UTC().Format(time.RFC3339), sum.Ended.UTC().Format(time.RFC3339),
		sum.Total, sum.Succeeded, sum.Failed, sum.Skipped,
		sum.TotalSent.String(), sum.TotalGasUsed, sum.TotalDelay.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", sum.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes
		(run_id, account_index, kind, address, amount, gas_used, tx_hash, reserved, reason, balance, minimum)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, o := range b.Successes() {
		if _, err := stmt.ExecContext(ctx, sum.RunID, int(o.ID), stats.KindSuccess.String(), o.Address.Hex(),
			o.Amount.String(), o.GasUsed, o.TxHash.Hex(), o.Reserved.String(), nil, nil, nil); err != nil {
			return fmt.Errorf("insert outcome %d: %w", o.ID, err)
		}
	}
	for _, o := range b.Failed() {
		if _, err := stmt.ExecContext(ctx, sum.RunID, int(o.ID), stats.KindFailed.String(), o.Address.Hex(),
			nil, nil, nil, nil, o.Reason, nil, nil); err != nil {
			return fmt.Errorf("insert outcome %d: %w", o.ID, err)
		}
	}
	for _, o := range b.Skipped() {
		if _, err := stmt.ExecContext(ctx, sum.RunID, int(o.ID), stats.KindSkipped.String(), o.Address.Hex(),
			nil, nil, nil, nil, nil, o.Balance.String(), o.Minimum.String()); err != nil {
			return fmt.Errorf("insert outcome %d: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Entry is one stored batch.
type Entry struct {
	RunID      string
	Label      string
	StartedAt  time.Time
	EndedAt    time.Time
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	TotalSent  string
	GasUsed    uint64
	TotalDelay time.Duration
}

// Recent returns up to limit batches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, label, started_at, ended_at, total, succeeded, failed, skipped,
		 total_sent, total_gas_used, total_delay_ms
		FROM batches ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e              Entry
			started, ended string
			delayMs        int64
		)
		if err := rows.Scan(&e.RunID, &e.Label, &started, &ended, &e.Total, &e.Succeeded,
			&e.Failed, &e.Skipped, &e.TotalSent, &e.GasUsed, &delayMs); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339, started)
		e.EndedAt, _ = time.Parse(time.RFC3339, ended)
		e.TotalDelay = time.Duration(delayMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Outcomes returns the number of stored outcomes per kind for runID.
func (s *Store) Outcomes(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}
