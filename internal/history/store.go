// Package history provides SQLite-backed persistence for runs and their
// iterations, so finished iterations can be inspected after the fact.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loopwatch/loopwatch/internal/agent"
	"github.com/loopwatch/loopwatch/internal/engine"
)

var (
	// ErrNotFound is returned when a run or iteration does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous is returned when a run id prefix matches several runs.
	ErrAmbiguous = errors.New("ambiguous run id")
)

// Run is one engine run.
type Run struct {
	ID             string
	Source         string
	StartedAt      time.Time
	EndedAt        time.Time // zero while the run is in progress
	Reason         engine.StopReason
	Detail         string
	Iterations     int
	CompletedTasks int
	TotalTokens    int
	TotalCost      float64
}

// Iteration is a stored iteration result.
type Iteration struct {
	RunID      string
	Result     engine.IterationResult
	OutputPath string
}

// Store provides access to the history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs idempotent schema migrations.
// Timestamps are stored as unix nanoseconds; 0 means unset.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		iterations INTEGER NOT NULL DEFAULT 0,
		completed_tasks INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS iterations (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		task_title TEXT NOT NULL,
		task_description TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		task_completed INTEGER NOT NULL,
		promise_complete INTEGER NOT NULL,
		signal INTEGER NOT NULL,
		signal_reason TEXT NOT NULL,
		error TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		has_agent INTEGER NOT NULL,
		stdout TEXT NOT NULL,
		stderr TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		tokens_in INTEGER NOT NULL,
		tokens_out INTEGER NOT NULL,
		cost REAL NOT NULL,
		agent_duration_ms INTEGER NOT NULL,
		output_path TEXT NOT NULL,
		PRIMARY KEY (run_id, iteration),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_iterations_task_id ON iterations(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateRun records the start of a run and returns it with a fresh id.
func (s *Store) CreateRun(ctx context.Context, source string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Source, toUnix(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id string, result *engine.RunResult) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, reason = ?, detail = ?, iterations = ?, completed_tasks = ?, total_tokens = ?, total_cost = ?
		 WHERE id = ?`,
		toUnix(time.Now()), string(result.Reason), result.Detail, result.Iterations,
		len(result.CompletedTasks), result.TotalTokens, result.TotalCost, id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `id, source, started_at, ended_at, reason, detail, iterations, completed_tasks, total_tokens, total_cost`

// GetRun returns the run with the given id. A unique id prefix is accepted.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("empty run id: %w", ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`,
		id, stripWildcards(id)+"%", id,
	)
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	case runs[0].ID == id, len(runs) == 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("run %s: %w", id, ErrAmbiguous)
	}
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var started, ended int64
		var reason string
		if err := rows.Scan(&r.ID, &r.Source, &started, &ended, &reason, &r.Detail,
			&r.Iterations, &r.CompletedTasks, &r.TotalTokens, &r.TotalCost); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = fromUnix(started)
		r.EndedAt = fromUnix(ended)
		r.Reason = engine.StopReason(reason)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

// SaveIteration stores an iteration result, replacing an earlier save of
// the same iteration.
func (s *Store) SaveIteration(ctx context.Context, runID string, r engine.IterationResult, outputPath string) error {
	var a agent.Result
	hasAgent := r.Agent != nil
	if hasAgent {
		a = *r.Agent
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO iterations (
			run_id, iteration, task_id, task_title, task_description, status,
			started_at, ended_at, task_completed, promise_complete, signal, signal_reason,
			error, duration_ms, has_agent, stdout, stderr, exit_code,
			tokens_in, tokens_out, cost, agent_duration_ms, output_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, r.Iteration, r.Task.ID, r.Task.Title, r.Task.Description, string(r.Status),
		toUnix(r.StartedAt), toUnix(r.EndedAt), r.TaskCompleted, r.PromiseComplete, int(r.Signal), r.SignalReason,
		r.Error, r.DurationMs, hasAgent, a.Stdout, a.Stderr, a.ExitCode,
		a.TokensIn, a.TokensOut, a.Cost, a.Duration.Milliseconds(), outputPath,
	)
	if err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	return nil
}

const iterationColumns = `run_id, iteration, task_id, task_title, task_description, status,
	started_at, ended_at, task_completed, promise_complete, signal, signal_reason,
	error, duration_ms, has_agent, stdout, stderr, exit_code,
	tokens_in, tokens_out, cost, agent_duration_ms, output_path`

// ListIterations returns the iterations of a run in order.
func (s *Store) ListIterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+iterationColumns+` FROM iterations WHERE run_id = ? ORDER BY iteration`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		it, err := scanIteration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan iterations: %w", err)
	}
	return out, nil
}

// GetIteration returns one iteration of a run.
func (s *Store) GetIteration(ctx context.Context, runID string, iteration int) (*Iteration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+iterationColumns+` FROM iterations WHERE run_id = ? AND iteration = ?`,
		runID, iteration,
	)
	it, err := scanIteration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s iteration %d: %w", runID, iteration, ErrNotFound)
	}
	return it, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIteration(row scanner) (*Iteration, error) {
	var (
		it             Iteration
		r              = &it.Result
		a              agent.Result
		status         string
		started, ended int64
		signal         int
		hasAgent       bool
		agentMs        int64
	)
	err := row.Scan(
		&it.RunID, &r.Iteration, &r.Task.ID, &r.Task.Title, &r.Task.Description, &status,
		&started, &ended, &r.TaskCompleted, &r.PromiseComplete, &signal, &r.SignalReason,
		&r.Error, &r.DurationMs, &hasAgent, &a.Stdout, &a.Stderr, &a.ExitCode,
		&a.TokensIn, &a.TokensOut, &a.Cost, &agentMs, &it.OutputPath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan iteration: %w", err)
	}

	r.Status = engine.IterationStatus(status)
	r.StartedAt = fromUnix(started)
	r.EndedAt = fromUnix(ended)
	r.Signal = engine.Signal(signal)
	if hasAgent {
		a.Duration = time.Duration(agentMs) * time.Millisecond
		r.Agent = &a
	}
	return &it, nil
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// stripWildcards removes LIKE wildcards; run ids never contain them.
func stripWildcards(s string) string {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' {
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
