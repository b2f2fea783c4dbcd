// Package store persists the shared usage budget and completed run records
// in a SQLite database, so several codeloop processes on one host draw from
// the same ceilings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/isdmx/codeloop/oracle"
)

const busyTimeoutMS = 5000

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	calls INTEGER NOT NULL DEFAULT 0,
	tokens INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO usage (id, calls, tokens) VALUES (1, 0, 0);
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	request TEXT NOT NULL,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	code TEXT,
	stdout TEXT,
	stderr TEXT,
	exit_code INTEGER,
	analysis TEXT
);`

// Limits are the budget ceilings enforced by the store.
type Limits struct {
	MaxCalls  int64
	MaxTokens int64
}

// RunRecord is the persisted summary of one top-level request.
type RunRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Request   string    `json:"request"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	Code      string    `json:"code"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	ExitCode  int       `json:"exit_code"`
	Analysis  string    `json:"analysis"`
}

// SQLite is a Budget and run recorder backed by one database file.
type SQLite struct {
	db     *sql.DB
	path   string
	limits Limits
	logger *zap.Logger
}

// Open creates or opens the database at path.
func Open(logger *zap.Logger, path string, limits Limits) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Store opened",
		zap.String("path", path),
		zap.Int64("max_calls", limits.MaxCalls),
		zap.Int64("max_tokens", limits.MaxTokens))

	return &SQLite{db: db, path: path, limits: limits, logger: logger}, nil
}

// Path returns the database path.
func (s *SQLite) Path() string {
	return s.path
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// TryConsume implements oracle.Budget with a single conditional update, so
// the check and the increment are atomic across processes.
func (s *SQLite) TryConsume(calls, tokens int64) bool {
	res, err := s.db.Exec(`UPDATE usage SET calls = calls + ?, tokens = tokens + ?
		WHERE id = 1 AND calls < ? AND tokens < ?`,
		calls, tokens, s.limits.MaxCalls, s.limits.MaxTokens)
	if err != nil {
		s.logger.Error("Failed to update usage", zap.Error(err))
		return false
	}
	n, err := res.RowsAffected()
	if err != nil {
		s.logger.Error("Failed to read usage update", zap.Error(err))
		return false
	}
	return n == 1
}

// Usage implements oracle.Budget.
func (s *SQLite) Usage() oracle.Usage {
	u := oracle.Usage{MaxCalls: s.limits.MaxCalls, MaxTokens: s.limits.MaxTokens}
	if err := s.db.QueryRow(`SELECT calls, tokens FROM usage WHERE id = 1`).Scan(&u.Calls, &u.Tokens); err != nil {
		s.logger.Error("Failed to read usage", zap.Error(err))
	}
	return u
}

// Reset zeroes the usage counters.
func (s *SQLite) Reset() error {
	_, err := s.db.Exec(`UPDATE usage SET calls = 0, tokens = 0 WHERE id = 1`)
	return err
}

// RecordRun stores a completed run.
func (s *SQLite) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, timestamp, request, state, attempts, code, stdout, stderr, exit_code, analysis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timeLayout),
		rec.Request,
		rec.State,
		rec.Attempts,
		rec.Code,
		rec.Stdout,
		rec.Stderr,
		rec.ExitCode,
		rec.Analysis,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}
	return nil
}

// Runs returns recorded runs, newest first. A non-positive limit returns all
// of them; a non-empty state filters by final state.
func (s *SQLite) Runs(ctx context.Context, limit int, state string) ([]RunRecord, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString("SELECT id, timestamp, request, state, attempts, code, stdout, stderr, exit_code, analysis FROM runs")
	if state != "" {
		query.WriteString(" WHERE state = ?")
		args = append(args, state)
	}
	query.WriteString(" ORDER BY timestamp DESC")
	if limit > 0 {
		query.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec RunRecord
			ts  string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Request, &rec.State, &rec.Attempts,
			&rec.Code, &rec.Stdout, &rec.Stderr, &rec.ExitCode, &rec.Analysis); err != nil {
			return nil, err
		}
		if t, err := time.Parse(timeLayout, ts); err == nil {
			rec.Timestamp = t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ oracle.Budget = (*SQLite)(nil)
