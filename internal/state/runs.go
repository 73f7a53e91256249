package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one row of the run ledger.
type RunRecord struct {
	ID       string `json:"id"`
	Goal     string `json:"goal"`
	Skill    string `json:"skill,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Status   string `json:"status"`
	Summary  string `json:"summary,omitempty"`
	// PlanJSON is the plan as the planner returned it, indented.
	PlanJSON       string     `json:"plan_json,omitempty"`
	Error          string     `json:"error,omitempty"`
	InputTokens    int64      `json:"input_tokens"`
	OutputTokens   int64      `json:"output_tokens"`
	ThinkingTokens int64      `json:"thinking_tokens"`
	Cost           float64    `json:"cost"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	// Workers is filled by GetRun; ListRuns leaves it empty.
	Workers []WorkerRecord `json:"workers,omitempty"`
}

// WorkerRecord is the audit row for one ephemeral agent.
type WorkerRecord struct {
	AgentID        string  `json:"agent_id"`
	TaskID         string  `json:"task_id"`
	AgentType      string  `json:"agent_type"`
	Status         string  `json:"status"`
	Confidence     float64 `json:"confidence"`
	Turns          int     `json:"turns"`
	ToolCalls      int     `json:"tool_calls"`
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
	ThinkingTokens int64   `json:"thinking_tokens"`
	DurationMS     int64   `json:"duration_ms"`
	Error          string  `json:"error,omitempty"`
}

// RecordRun inserts a run and its workers in one transaction. Recording the
// same run ID twice replaces the earlier row.
func (db *DB) RecordRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.New("record run: empty run id")
	}

	return db.Transaction(func(tx *sql.Tx) error {
		var ended sql.NullString
		if rec.EndedAt != nil {
			ended = sql.NullString{String: formatTime(*rec.EndedAt), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM workers WHERE run_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("replace workers of %s: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, rec.ID); err != nil {
			return fmt.Errorf("replace run %s: %w", rec.ID, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, goal, skill, strategy, status, summary, plan_json, error,
				input_tokens, output_tokens, thinking_tokens, cost, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.Goal, rec.Skill, rec.Strategy, rec.Status, rec.Summary, rec.PlanJSON, rec.Error,
			rec.InputTokens, rec.OutputTokens, rec.ThinkingTokens, rec.Cost, formatTime(rec.StartedAt), ended)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", rec.ID, err)
		}

		for _, w := range rec.Workers {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO workers (agent_id, run_id, task_id, agent_type, status, confidence, turns,
					tool_calls, input_tokens, output_tokens, thinking_tokens, duration_ms, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, w.AgentID, rec.ID, w.TaskID, w.AgentType, w.Status, w.Confidence, w.Turns,
				w.ToolCalls, w.InputTokens, w.OutputTokens, w.ThinkingTokens, w.DurationMS, w.Error)
			if err != nil {
				return fmt.Errorf("insert worker %s: %w", w.AgentID, err)
			}
		}
		return nil
	})
}

const runColumns = `id, goal, COALESCE(skill, ''), COALESCE(strategy, ''), status, COALESCE(summary, ''),
	COALESCE(plan_json, ''), COALESCE(error, ''), input_tokens, output_tokens, thinking_tokens, cost,
	started_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec     RunRecord
		started string
		ended   sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Goal, &rec.Skill, &rec.Strategy, &rec.Status, &rec.Summary,
		&rec.PlanJSON, &rec.Error, &rec.InputTokens, &rec.OutputTokens, &rec.ThinkingTokens, &rec.Cost,
		&started, &ended)
	if err != nil {
		return nil, err
	}
	t, err := parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = t
	rec.EndedAt = parseNullableTime(ended)
	return &rec, nil
}

// GetRun returns a run with its workers.
func (db *DB) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rec, err := scanRun(db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT agent_id, task_id, agent_type, status, confidence, turns, tool_calls,
			input_tokens, output_tokens, thinking_tokens, duration_ms, COALESCE(error, '')
		FROM workers WHERE run_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list workers for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var w WorkerRecord
		if err := rows.Scan(&w.AgentID, &w.TaskID, &w.AgentType, &w.Status, &w.Confidence, &w.Turns,
			&w.ToolCalls, &w.InputTokens, &w.OutputTokens, &w.ThinkingTokens, &w.DurationMS, &w.Error); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		rec.Workers = append(rec.Workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
