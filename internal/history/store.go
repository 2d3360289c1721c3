package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/maestro-run/maestro/internal/engine"
	"github.com/maestro-run/maestro/internal/plan"
)

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	mode       TEXT NOT NULL,
	steps      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	id              TEXT PRIMARY KEY,
	plan_id         TEXT NOT NULL,
	query           TEXT NOT NULL,
	mode            TEXT NOT NULL,
	status          TEXT NOT NULL,
	completed_steps INTEGER NOT NULL,
	failed_steps    INTEGER NOT NULL,
	skipped_steps   INTEGER NOT NULL,
	duration_ms     INTEGER NOT NULL,
	finished_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_finished_at ON executions(finished_at DESC);
`

// Store persists plans and execution summaries in a local SQLite database.
// It implements engine.HistorySink; failures here only ever surface in the
// engine's logs, never in plan status.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is required")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// stepRecord is the persisted shape of one plan step.
type stepRecord struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Executor    string   `json:"executor"`
	DependsOn   []string `json:"depends_on,omitempty"`
	MaxRetries  int      `json:"max_retries"`
}

// SavePlan records a plan at creation time.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	records := make([]stepRecord, 0, len(p.Steps))
	for _, step := range p.Steps {
		records = append(records, stepRecord{
			ID:          step.ID,
			Description: step.Description,
			Executor:    step.Executor,
			DependsOn:   step.DependsOn,
			MaxRetries:  step.MaxRetries,
		})
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode plan steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO plans (id, query, mode, steps, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Query, string(p.Mode), string(payload), p.CreatedAt.UTC(),
	)
	return err
}

// SaveExecution records a finished execution summary.
func (s *Store) SaveExecution(ctx context.Context, summary engine.Summary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions
		 (id, plan_id, query, mode, status, completed_steps, failed_steps, skipped_steps, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), summary.PlanID, summary.Query, string(summary.Mode), string(summary.Status),
		summary.CompletedSteps, summary.FailedSteps, summary.SkippedSteps,
		summary.Duration.Milliseconds(), summary.FinishedAt.UTC(),
	)
	return err
}

// ExecutionRecord is one row of execution history.
type ExecutionRecord struct {
	PlanID         string
	Query          string
	Mode           string
	Status         string
	CompletedSteps int
	FailedSteps    int
	SkippedSteps   int
	Duration       time.Duration
	FinishedAt     time.Time
}

// Recent returns the most recent executions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, query, mode, status, completed_steps, failed_steps, skipped_steps, duration_ms, finished_at
		 FROM executions ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var rec ExecutionRecord
		var durationMS int64
		if err := rows.Scan(&rec.PlanID, &rec.Query, &rec.Mode, &rec.Status,
			&rec.CompletedSteps, &rec.FailedSteps, &rec.SkippedSteps, &durationMS, &rec.FinishedAt); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}
