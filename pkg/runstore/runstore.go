// Package runstore provides SQLite-backed archival of completed sub-agent
// runs.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"agentd/pkg/logx"
)

// Record is one archived sub-agent run.
type Record struct {
	SessionID   string
	Task        string
	Model       string
	Success     bool
	Content     string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS sub_agent_runs (
	session_id   TEXT PRIMARY KEY,
	task         TEXT NOT NULL,
	model        TEXT NOT NULL DEFAULT '',
	success      INTEGER NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sub_agent_runs_completed ON sub_agent_runs(completed_at);
`

// Store persists sub-agent run records.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the run store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping run store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize run store schema: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("runstore")
	logger.Info("run store opened: %s", path)
	return &Store{db: db, logger: logger}, nil
}

// Save archives one completed run.
func (s *Store) Save(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sub_agent_runs
			(session_id, task, model, success, content, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Task, rec.Model, rec.Success, rec.Content, rec.Error,
		rec.StartedAt.UTC(), rec.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.SessionID, err)
	}
	return nil
}

// List returns archived runs, most recently completed first, up to limit.
// limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT session_id, task, model, success, content, error, started_at, completed_at
		FROM sub_agent_runs ORDER BY completed_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.SessionID, &rec.Task, &rec.Model, &rec.Success,
			&rec.Content, &rec.Error, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
