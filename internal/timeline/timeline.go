// Package timeline turns a single iteration record into display data: an
// ordered list of what happened and the agent output split into prose and
// code. Everything here is a pure function of its input.
package timeline

import (
	"fmt"
	"time"

	"github.com/loopwatch/loopwatch/internal/engine"
)

// Kind identifies a timeline entry.
type Kind string

const (
	KindStarted       Kind = "started"
	KindAgentRunning  Kind = "agent_running"
	KindTaskCompleted Kind = "task_completed"
	KindCompleted     Kind = "completed"
	KindFailed        Kind = "failed"
	KindInterrupted   Kind = "interrupted"
	KindSkipped       Kind = "skipped"
)

// Event is one entry of an iteration timeline.
type Event struct {
	Timestamp   time.Time
	Kind        Kind
	Description string
}

// BuildTimeline reconstructs the ordered sub-events of an iteration.
// A running iteration has no terminal entry.
func BuildTimeline(result engine.IterationResult) []Event {
	events := []Event{{
		Timestamp:   result.StartedAt,
		Kind:        KindStarted,
		Description: "Iteration started",
	}}

	if result.Agent != nil {
		events = append(events, Event{
			Timestamp:   result.StartedAt,
			Kind:        KindAgentRunning,
			Description: "Agent running",
		})
	}

	if result.TaskCompleted {
		desc := "Task marked complete"
		if result.PromiseComplete {
			desc = "Task marked complete (<promise>COMPLETE</promise> detected)"
		}
		events = append(events, Event{
			Timestamp:   result.EndedAt,
			Kind:        KindTaskCompleted,
			Description: desc,
		})
	}

	switch result.Status {
	case engine.IterationStatusCompleted:
		events = append(events, Event{Timestamp: result.EndedAt, Kind: KindCompleted, Description: "Iteration completed"})
	case engine.IterationStatusFailed:
		desc := result.Error
		if desc == "" {
			desc = "Iteration failed"
		}
		events = append(events, Event{Timestamp: result.EndedAt, Kind: KindFailed, Description: desc})
	case engine.IterationStatusInterrupted:
		events = append(events, Event{Timestamp: result.EndedAt, Kind: KindInterrupted, Description: "Iteration interrupted"})
	case engine.IterationStatusSkipped:
		events = append(events, Event{Timestamp: result.EndedAt, Kind: KindSkipped, Description: "Iteration skipped"})
	}

	return events
}

// FormatTimestamp renders t as local wall-clock time. The zero time renders
// as a placeholder.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.Local().Format("15:04:05")
}

// FormatDuration renders a millisecond duration compactly, e.g. "850ms",
// "42s" or "3m05s".
func FormatDuration(ms int64) string {
	if ms < 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	return fmt.Sprintf("%dm%02ds", int(d/time.Minute), int((d%time.Minute)/time.Second))
}
