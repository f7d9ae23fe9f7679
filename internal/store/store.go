// Package store persists execution and task results in an append-only
// SQLite log, so finished runs can be inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/webpilot-org/webpilot/internal/dag"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	goal         TEXT NOT NULL,
	success      INTEGER NOT NULL,
	confidence   REAL NOT NULL,
	error        TEXT,
	extracted    TEXT,
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS task_results (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	worker_id    TEXT,
	success      INTEGER NOT NULL,
	needs_replan INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	detail       TEXT NOT NULL,
	started_at   TIMESTAMP,
	finished_at  TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_task_results_execution
	ON task_results (execution_id);
`

// ExecutionRecord is the stored summary of one run.
type ExecutionRecord struct {
	ExecutionID string
	Goal        string
	Success     bool
	Confidence  float64
	Error       string
	Extracted   map[string]string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store is an append-only result log backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// The driver serializes access per connection; one is plenty for a log.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTaskResult appends one task result to the log.
func (s *Store) RecordTaskResult(ctx context.Context, executionID string, res *dag.TaskResult) error {
	detail, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("store: encode task result: %w", err)
	}
	var errText string
	if res.Error != nil {
		errText = res.Error.Error()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_results
			(execution_id, task_id, worker_id, success, needs_replan, error, detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, res.TaskID, res.WorkerID, res.Success, res.NeedsReplan,
		errText, string(detail), res.StartedAt, res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert task result: %w", err)
	}
	return nil
}

// RecordExecution stores the summary row for a finished run.
func (s *Store) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	extracted, err := json.Marshal(rec.Extracted)
	if err != nil {
		return fmt.Errorf("store: encode extracted data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
			(execution_id, goal, success, confidence, error, extracted, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.Goal, rec.Success, rec.Confidence,
		rec.Error, string(extracted), rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert execution: %w", err)
	}
	return nil
}

// TaskResults returns all task results for an execution in insertion order.
func (s *Store) TaskResults(ctx context.Context, executionID string) ([]dag.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT detail FROM task_results WHERE execution_id = ? ORDER BY id`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query task results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []dag.TaskResult
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("store: scan task result: %w", err)
		}
		var res dag.TaskResult
		if err := json.Unmarshal([]byte(detail), &res); err != nil {
			return nil, fmt.Errorf("store: decode task result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Executions returns the most recent execution summaries, newest first.
func (s *Store) Executions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, goal, success, confidence, error, extracted, started_at, finished_at
		FROM executions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var extracted string
		err := rows.Scan(&rec.ExecutionID, &rec.Goal, &rec.Success, &rec.Confidence,
			&rec.Error, &extracted, &rec.StartedAt, &rec.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan execution: %w", err)
		}
		if extracted != "" {
			if err := json.Unmarshal([]byte(extracted), &rec.Extracted); err != nil {
				return nil, fmt.Errorf("store: decode extracted data: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
