package view

import "github.com/loopwatch/loopwatch/internal/engine"

// RunState is the run status shown to the operator.
type RunState string

const (
	StateRunning RunState = "running"
	StatePaused  RunState = "paused"
	StateStopped RunState = "stopped"
	StateError   RunState = "error"
)

// Override records why the displayed status was forced to error.
type Override struct {
	Reason string
}

// Status is the run status as last reported by the engine, plus an optional
// error override. Once latched the override wins over every later State.
type Status struct {
	State    RunState
	Override *Override
}

// Effective returns the state to display.
func (s Status) Effective() RunState {
	if s.Override != nil {
		return StateError
	}
	if s.State == "" {
		return StateStopped
	}
	return s.State
}

// Overridden reports whether the error override is latched.
func (s Status) Overridden() bool {
	return s.Override != nil
}

// WithState returns s with a new underlying state. The override is kept.
func (s Status) WithState(state RunState) Status {
	s.State = state
	return s
}

// Latch returns s with the error override set. The first reason wins.
func (s Status) Latch(reason string) Status {
	if s.Override == nil {
		s.Override = &Override{Reason: reason}
	}
	return s
}

// StatusFromEngine maps the coarse engine status to a display state.
func StatusFromEngine(status engine.Status, overridden bool) RunState {
	if overridden {
		return StateError
	}
	switch status {
	case engine.StatusRunning:
		return StateRunning
	case engine.StatusPaused:
		return StatePaused
	default:
		// stopping, idle and anything unrecognized
		return StateStopped
	}
}
