// Package runlog persists update run outcomes in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
  run_id      TEXT PRIMARY KEY,
  trigger     TEXT NOT NULL,
  status      TEXT NOT NULL,
  started_at  TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  rows        INTEGER NOT NULL,
  error       TEXT,
  payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Store records run outcomes. It implements scheduler.OutcomeSink.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the run log at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	// One writer; also keeps ":memory:" to a single shared connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordOutcome inserts or replaces the outcome of a run.
func (s *Store) RecordOutcome(ctx context.Context, o domain.RunOutcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (run_id, trigger, status, started_at, finished_at, rows, error, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, string(o.Trigger), string(o.Status),
		o.StartedAt.UTC().Format(time.RFC3339Nano),
		o.FinishedAt.UTC().Format(time.RFC3339Nano),
		o.Rows, nullString(o.Error), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", o.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.RunOutcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.RunOutcome
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var o domain.RunOutcome
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Get returns one run by ID.
func (s *Store) Get(ctx context.Context, runID string) (domain.RunOutcome, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunOutcome{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return domain.RunOutcome{}, fmt.Errorf("query run: %w", err)
	}
	var o domain.RunOutcome
	if err := json.Unmarshal([]byte(payload), &o); err != nil {
		return domain.RunOutcome{}, fmt.Errorf("decode run: %w", err)
	}
	return o, nil
}

// CountByStatus returns how many runs ended in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.RunStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RunStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.RunStatus(status)] = n
	}
	return counts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
