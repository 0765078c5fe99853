package engine

import (
	"time"

	"github.com/loopwatch/loopwatch/internal/agent"
)

// Task is the unit of work handed to the agent in one iteration.
type Task struct {
	ID          string
	Title       string
	Description string
}

// Status is the coarse engine status reported by Engine.Status.
type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusStopping Status = "stopping"
	StatusIdle     Status = "idle"
)

// IterationStatus is the outcome of a single iteration.
type IterationStatus string

const (
	IterationStatusRunning     IterationStatus = "running"
	IterationStatusCompleted   IterationStatus = "completed"
	IterationStatusFailed      IterationStatus = "failed"
	IterationStatusInterrupted IterationStatus = "interrupted"
	IterationStatusSkipped     IterationStatus = "skipped"
)

// IterationResult contains the outcome of a single iteration.
type IterationResult struct {
	// Iteration is the iteration number (1-indexed).
	Iteration int

	// Status is the iteration outcome.
	Status IterationStatus

	// Task is the task that was worked on.
	Task Task

	// StartedAt and EndedAt bound the iteration. EndedAt is zero while running.
	StartedAt time.Time
	EndedAt   time.Time

	// Agent is the raw agent result, nil when the agent never ran.
	Agent *agent.Result

	// TaskCompleted reports that the task was closed by this iteration.
	TaskCompleted bool

	// PromiseComplete reports that completion came from the
	// <promise>COMPLETE</promise> marker in the agent output.
	PromiseComplete bool

	// Signal is any signal detected in the output.
	Signal Signal

	// SignalReason is the reason for EJECT or BLOCKED signals.
	SignalReason string

	// Error is the failure message, empty on success.
	Error string

	// DurationMs is the wall-clock duration in milliseconds.
	DurationMs int64
}

// Stdout returns the agent's standard output, or "" when the agent never ran.
func (r IterationResult) Stdout() string {
	if r.Agent == nil {
		return ""
	}
	return r.Agent.Stdout
}

// Snapshot is a point-in-time view of the engine used for cold starts.
type Snapshot struct {
	CurrentIteration int
	CurrentOutput    string
}
