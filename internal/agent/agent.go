package agent

import (
	"context"
	"errors"
	"time"
)

// Stream identifies the process stream an output chunk was read from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

var (
	// ErrTimeout is returned when the agent run exceeds its timeout.
	// The accompanying Result holds whatever output was captured.
	ErrTimeout = errors.New("agent timed out")

	// ErrCancelled is returned when the run context is cancelled before the
	// agent exits on its own.
	ErrCancelled = errors.New("agent cancelled")
)

// Agent defines the interface for AI coding agents.
type Agent interface {
	// Name returns the agent's display name.
	Name() string

	// Available checks if the agent's CLI is installed and accessible.
	Available() bool

	// Run executes the agent with the given prompt and options.
	// The context can be used for cancellation and timeout.
	Run(ctx context.Context, prompt string, opts RunOpts) (*Result, error)
}

// RunOpts configures an agent run.
type RunOpts struct {
	// OnOutput receives output line by line as the agent produces it.
	// Calls are serialized; the callback never runs concurrently with itself.
	OnOutput func(stream Stream, data string)

	// Timeout for the entire run. If zero, no timeout is applied
	// beyond any context deadline.
	Timeout time.Duration
}

// Result contains the output and metrics from an agent run.
type Result struct {
	// Stdout is the full standard output of the agent.
	Stdout string

	// Stderr is the full standard error of the agent.
	Stderr string

	// ExitCode is the process exit code (-1 if the process never exited normally).
	ExitCode int

	// TokensIn is the number of input tokens (if available).
	TokensIn int

	// TokensOut is the number of output tokens (if available).
	TokensOut int

	// Cost is the estimated cost in USD (if available).
	Cost float64

	// Duration is how long the run took.
	Duration time.Duration
}
