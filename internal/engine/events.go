package engine

import (
	"github.com/loopwatch/loopwatch/internal/agent"
)

// EventKind is the wire name of an engine event.
type EventKind string

const (
	KindEngineStarted      EventKind = "engine:started"
	KindEngineStopped      EventKind = "engine:stopped"
	KindEnginePaused       EventKind = "engine:paused"
	KindEngineResumed      EventKind = "engine:resumed"
	KindIterationStarted   EventKind = "iteration:started"
	KindIterationCompleted EventKind = "iteration:completed"
	KindIterationFailed    EventKind = "iteration:failed"
	KindTaskSelected       EventKind = "task:selected"
	KindTaskCompleted      EventKind = "task:completed"
	KindAgentOutput        EventKind = "agent:output"
)

// Event is a single notification emitted by the engine.
// Consumers switch on the concrete type and must ignore types they do not know.
type Event interface {
	Kind() EventKind
}

// StopReason explains why a run ended.
type StopReason string

const (
	StopCompleted     StopReason = "completed"
	StopNoTasks       StopReason = "no_tasks"
	StopMaxIterations StopReason = "max_iterations"
	StopInterrupted   StopReason = "interrupted"
	StopBlocked       StopReason = "blocked"
	StopEjected       StopReason = "ejected"
	StopStuck         StopReason = "stuck"
	StopError         StopReason = "error"
)

type (
	// EngineStarted is emitted once when a run begins.
	EngineStarted struct{}

	// EngineStopped is emitted once when a run ends, whatever the cause.
	EngineStopped struct {
		Reason StopReason
		// Detail is a human readable explanation (error text, signal reason).
		Detail string
	}

	// EnginePaused is emitted when a pause request takes effect.
	EnginePaused struct{}

	// EngineResumed is emitted when a paused run continues.
	EngineResumed struct{}

	// IterationStarted is emitted right before the agent is invoked.
	IterationStarted struct {
		Iteration int
		Task      Task
	}

	// IterationCompleted is emitted when an iteration ends without an
	// agent failure. Result.Status may still be interrupted or skipped.
	IterationCompleted struct {
		Result IterationResult
	}

	// IterationFailed is emitted when the agent run failed.
	IterationFailed struct {
		Iteration int
		Task      Task
		Error     string
		Result    IterationResult
	}

	// TaskSelected is emitted when the engine picks the task for an iteration.
	TaskSelected struct {
		Task      Task
		Iteration int
	}

	// TaskCompleted is emitted when an iteration closed its task.
	TaskCompleted struct {
		Task      Task
		Iteration int
	}

	// AgentOutput carries one chunk of agent output.
	AgentOutput struct {
		Stream agent.Stream
		Data   string
	}
)

func (EngineStarted) Kind() EventKind      { return KindEngineStarted }
func (EngineStopped) Kind() EventKind      { return KindEngineStopped }
func (EnginePaused) Kind() EventKind       { return KindEnginePaused }
func (EngineResumed) Kind() EventKind      { return KindEngineResumed }
func (IterationStarted) Kind() EventKind   { return KindIterationStarted }
func (IterationCompleted) Kind() EventKind { return KindIterationCompleted }
func (IterationFailed) Kind() EventKind    { return KindIterationFailed }
func (TaskSelected) Kind() EventKind       { return KindTaskSelected }
func (TaskCompleted) Kind() EventKind      { return KindTaskCompleted }
func (AgentOutput) Kind() EventKind        { return KindAgentOutput }
