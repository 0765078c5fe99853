package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loopwatch/loopwatch/internal/agent"
)

// ErrAlreadyRunning is returned by Run when a run is already in progress.
var ErrAlreadyRunning = errors.New("engine already running")

// TaskSource supplies tasks to the engine and records their progress.
type TaskSource interface {
	// NextTask returns the next ready task, or nil when none is left.
	NextTask() (*Task, error)

	// SetStatus updates a task's status (open, in_progress, closed).
	SetStatus(taskID, status string) error

	// IsClosed reports whether the task has been closed.
	IsClosed(taskID string) (bool, error)
}

// Engine orchestrates the Ralph iteration loop.
type Engine struct {
	agent  agent.Agent
	tasks  TaskSource
	prompt *PromptBuilder
	bus    Bus

	mu             sync.Mutex
	status         Status
	iteration      int
	output         strings.Builder
	cancel         context.CancelFunc
	pauseRequested bool
	stopRequested  bool
	resumeCh       chan struct{}
}

// RunConfig configures an engine run.
type RunConfig struct {
	// MaxIterations is the maximum number of iterations (0 = 50 default).
	MaxIterations int

	// AgentTimeout is the per-iteration timeout for the agent (0 = 30 minutes default).
	AgentTimeout time.Duration

	// MaxTaskRetries is the maximum iterations on the same task before assuming stuck (0 = 3 default).
	MaxTaskRetries int
}

// Defaults for RunConfig.
const (
	DefaultMaxIterations  = 50
	DefaultAgentTimeout   = 30 * time.Minute
	DefaultMaxTaskRetries = 3
)

func (c RunConfig) withDefaults() RunConfig {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.AgentTimeout == 0 {
		c.AgentTimeout = DefaultAgentTimeout
	}
	if c.MaxTaskRetries == 0 {
		c.MaxTaskRetries = DefaultMaxTaskRetries
	}
	return c
}

// RunResult contains the outcome of an engine run.
type RunResult struct {
	// Iterations is the total number of iterations started.
	Iterations int

	// TotalTokens is the cumulative token usage.
	TotalTokens int

	// TotalCost is the cumulative cost in USD.
	TotalCost float64

	// Duration is the total wall-clock time.
	Duration time.Duration

	// CompletedTasks lists task IDs that were closed.
	CompletedTasks []string

	// Signal is the exit signal (if any).
	Signal Signal

	// SignalReason is the reason for EJECT or BLOCKED signals.
	SignalReason string

	// Reason is why the run ended.
	Reason StopReason

	// Detail describes the reason in words.
	Detail string
}

// NewEngine creates a new engine with the given dependencies.
func NewEngine(a agent.Agent, tasks TaskSource) *Engine {
	return &Engine{
		agent:    a,
		tasks:    tasks,
		prompt:   NewPromptBuilder(),
		status:   StatusIdle,
		resumeCh: make(chan struct{}, 1),
	}
}

// Subscribe registers a listener for engine events.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	return e.bus.Subscribe(l)
}

// SubscribeState registers l and returns the state and status as of that
// moment. Output already in the snapshot is not delivered to l again.
// It must not be called from inside a listener.
func (e *Engine) SubscribeState(l Listener) (Snapshot, Status, func()) {
	var (
		snap   Snapshot
		status Status
	)
	unsubscribe := e.bus.SubscribeWith(l, func() {
		snap, status = e.State(), e.Status()
	})
	return snap, status, unsubscribe
}

// State returns the current iteration number and its stdout so far.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		CurrentIteration: e.iteration,
		CurrentOutput:    e.output.String(),
	}
}

// Status returns the coarse engine status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Pause asks the engine to pause before its next iteration.
// The running iteration is not interrupted.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning {
		e.pauseRequested = true
	}
}

// Resume withdraws a pause request or wakes a paused engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.pauseRequested {
		e.mu.Unlock()
		return
	}
	e.pauseRequested = false
	e.mu.Unlock()

	select {
	case e.resumeCh <- struct{}{}:
	default:
	}
}

// Stop cancels the current run. The agent process is killed and the
// iteration in flight ends as interrupted.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.status == StatusIdle || e.status == StatusStopping {
		e.mu.Unlock()
		return
	}
	e.status = StatusStopping
	e.stopRequested = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run executes the engine loop until completion, signal, stop or limits.
func (e *Engine) Run(ctx context.Context, config RunConfig) (*RunResult, error) {
	config = config.withDefaults()

	e.mu.Lock()
	if e.status != StatusIdle {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel = cancel
	e.status = StatusRunning
	e.iteration = 0
	e.output.Reset()
	e.pauseRequested = false
	e.stopRequested = false
	e.mu.Unlock()

	state := &runState{
		completedTasks: []string{},
		startTime:      time.Now(),
	}

	e.bus.Emit(EngineStarted{})

	reason, detail, err := e.loop(ctx, config, state)

	e.mu.Lock()
	e.status = StatusIdle
	e.cancel = nil
	e.mu.Unlock()

	if err != nil && detail == "" {
		detail = err.Error()
	}
	e.bus.Emit(EngineStopped{Reason: reason, Detail: detail})

	return state.toResult(reason, detail), err
}

func (e *Engine) loop(ctx context.Context, config RunConfig, state *runState) (StopReason, string, error) {
	for {
		if ctx.Err() != nil {
			return StopInterrupted, "", e.interruptErr(ctx)
		}

		if !e.waitIfPaused(ctx) {
			return StopInterrupted, "", e.interruptErr(ctx)
		}

		if state.iteration >= config.MaxIterations {
			return StopMaxIterations, fmt.Sprintf("reached %d iterations", config.MaxIterations), nil
		}

		task, err := e.tasks.NextTask()
		if err != nil {
			return StopError, "", fmt.Errorf("getting next task: %w", err)
		}
		if task == nil {
			if state.iteration == 0 {
				return StopNoTasks, "no tasks found", nil
			}
			return StopCompleted, "all tasks completed", nil
		}

		// Stuck loop detection - catch agent forgetting to close tasks
		if task.ID == state.lastTaskID {
			state.sameTaskCount++
			if state.sameTaskCount > config.MaxTaskRetries {
				return StopStuck, fmt.Sprintf("stuck on task %s after %d iterations - may need manual review", task.ID, state.sameTaskCount-1), nil
			}
		} else {
			state.lastTaskID = task.ID
			state.sameTaskCount = 1
		}

		state.iteration++
		result := e.runIteration(ctx, state, *task, config.AgentTimeout)

		if result.Agent != nil {
			state.totalTokens += result.Agent.TokensIn + result.Agent.TokensOut
			state.totalCost += result.Agent.Cost
		}
		if result.TaskCompleted {
			state.completedTasks = append(state.completedTasks, task.ID)
		}

		if result.Status == IterationStatusInterrupted {
			return StopInterrupted, "", e.interruptErr(ctx)
		}

		if reason := result.Signal.StopReason(); reason != "" {
			state.signal, state.signalReason = result.Signal, result.SignalReason
			return reason, result.Signal.stopDetail(result.SignalReason), nil
		}
	}
}

// interruptErr returns nil for operator stops and the context error otherwise.
func (e *Engine) interruptErr(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopRequested {
		return nil
	}
	return ctx.Err()
}

// waitIfPaused blocks while a pause is requested. It returns false if the
// context ends first.
func (e *Engine) waitIfPaused(ctx context.Context) bool {
	e.mu.Lock()
	if !e.pauseRequested {
		e.mu.Unlock()
		return true
	}
	e.status = StatusPaused
	e.mu.Unlock()

	e.bus.Emit(EnginePaused{})

	for {
		select {
		case <-ctx.Done():
			return false
		case <-e.resumeCh:
			e.mu.Lock()
			if e.pauseRequested {
				// stale wake-up from an earlier resume
				e.mu.Unlock()
				continue
			}
			e.status = StatusRunning
			e.mu.Unlock()
			e.bus.Emit(EngineResumed{})
			return true
		}
	}
}

// runState holds the mutable state during a run.
type runState struct {
	iteration      int
	completedTasks []string
	startTime      time.Time
	signal         Signal
	signalReason   string
	totalTokens    int
	totalCost      float64
	notes          []string

	// Stuck loop detection
	lastTaskID    string
	sameTaskCount int
}

// toResult converts run state to a RunResult.
func (s *runState) toResult(reason StopReason, detail string) *RunResult {
	return &RunResult{
		Iterations:     s.iteration,
		TotalTokens:    s.totalTokens,
		TotalCost:      s.totalCost,
		CompletedTasks: s.completedTasks,
		Duration:       time.Since(s.startTime),
		Signal:         s.signal,
		SignalReason:   s.signalReason,
		Reason:         reason,
		Detail:         detail,
	}
}

// runIteration executes a single iteration and emits its events.
func (e *Engine) runIteration(ctx context.Context, state *runState, task Task, timeout time.Duration) IterationResult {
	result := IterationResult{
		Iteration: state.iteration,
		Status:    IterationStatusRunning,
		Task:      task,
		StartedAt: time.Now(),
	}

	e.bus.Emit(TaskSelected{Task: task, Iteration: state.iteration})

	e.mu.Lock()
	e.iteration = state.iteration
	e.output.Reset()
	e.mu.Unlock()

	// A task closed by someone else between selection and start is skipped.
	if closed, err := e.tasks.IsClosed(task.ID); err == nil && closed {
		e.bus.Emit(IterationStarted{Iteration: state.iteration, Task: task})
		result.Status = IterationStatusSkipped
		e.finish(&result)
		e.bus.Emit(IterationCompleted{Result: result})
		return result
	}

	// Mark task as in_progress before starting (enables crash recovery)
	if err := e.tasks.SetStatus(task.ID, "in_progress"); err != nil {
		state.notes = append(state.notes, fmt.Sprintf("Warning: could not mark %s as in_progress: %v", task.ID, err))
	}

	e.bus.Emit(IterationStarted{Iteration: state.iteration, Task: task})

	prompt := e.prompt.Build(IterationContext{
		Iteration: state.iteration,
		Task:      &task,
		Notes:     state.notes,
	})

	agentResult, err := e.agent.Run(ctx, prompt, agent.RunOpts{
		Timeout:  timeout,
		OnOutput: e.handleOutput,
	})
	result.Agent = agentResult

	switch {
	case errors.Is(err, agent.ErrCancelled) || (err != nil && ctx.Err() != nil):
		result.Status = IterationStatusInterrupted
	case errors.Is(err, agent.ErrTimeout):
		result.Status = IterationStatusFailed
		result.Error = err.Error()
		state.notes = append(state.notes, buildTimeoutNote(state.iteration, task.ID, timeout, result.Stdout()))
	case err != nil:
		result.Status = IterationStatusFailed
		result.Error = err.Error()
		state.notes = append(state.notes, fmt.Sprintf("Iteration %d error: %v", state.iteration, err))
	default:
		result.Status = IterationStatusCompleted
		result.Signal, result.SignalReason = ParseSignals(result.Stdout())
		if result.Signal.ClosesTask() {
			result.PromiseComplete = true
			result.TaskCompleted = true
			if err := e.tasks.SetStatus(task.ID, "closed"); err != nil {
				state.notes = append(state.notes, fmt.Sprintf("Warning: could not close %s: %v", task.ID, err))
			}
		} else if closed, err := e.tasks.IsClosed(task.ID); err == nil {
			result.TaskCompleted = closed
		}
	}

	e.finish(&result)

	if result.Status == IterationStatusFailed {
		e.bus.Emit(IterationFailed{
			Iteration: result.Iteration,
			Task:      task,
			Error:     result.Error,
			Result:    result,
		})
	} else {
		e.bus.Emit(IterationCompleted{Result: result})
	}

	if result.TaskCompleted {
		e.bus.Emit(TaskCompleted{Task: task, Iteration: result.Iteration})
	}

	return result
}

func (e *Engine) finish(result *IterationResult) {
	result.EndedAt = time.Now()
	result.DurationMs = result.EndedAt.Sub(result.StartedAt).Milliseconds()
}

// handleOutput records stdout for cold-start snapshots and forwards every chunk.
func (e *Engine) handleOutput(stream agent.Stream, data string) {
	if stream != agent.StreamStdout {
		e.bus.Emit(AgentOutput{Stream: stream, Data: data})
		return
	}
	e.bus.EmitAfter(func() {
		e.mu.Lock()
		e.output.WriteString(data)
		e.mu.Unlock()
	}, AgentOutput{Stream: stream, Data: data})
}

// buildTimeoutNote creates a detailed note about a timeout for recovery.
// Includes iteration number, task ID, timeout duration, and partial output summary.
func buildTimeoutNote(iteration int, taskID string, timeout time.Duration, partialOutput string) string {
	note := fmt.Sprintf("Iteration %d timed out after %v on task %s.", iteration, timeout, taskID)

	if partialOutput != "" {
		// Keep the last portion, it is the most relevant
		const maxOutputLen = 500
		outputSummary := partialOutput
		if len(outputSummary) > maxOutputLen {
			outputSummary = "..." + outputSummary[len(outputSummary)-maxOutputLen:]
		}
		outputSummary = strings.Join(strings.Fields(outputSummary), " ")
		note += fmt.Sprintf(" Partial output: %s", outputSummary)
	} else {
		note += " No output captured before timeout."
	}

	return note
}
