package logging

import (
	"strings"

	"github.com/loopwatch/loopwatch/internal/agent"
	"github.com/loopwatch/loopwatch/internal/engine"
)

// EventListener returns an engine listener that logs every event.
// Agent stdout is not logged (it is kept in the history); stderr lines go
// to debug.
func EventListener(l *Logger) engine.Listener {
	log := l.Component("engine")
	return func(ev engine.Event) {
		switch ev := ev.(type) {
		case engine.EngineStarted:
			log.Info("run started")
		case engine.EngineStopped:
			if ev.Reason == engine.StopError {
				log.Error("run stopped", "reason", ev.Reason, "detail", ev.Detail)
				return
			}
			log.Info("run stopped", "reason", ev.Reason, "detail", ev.Detail)
		case engine.EnginePaused:
			log.Info("run paused")
		case engine.EngineResumed:
			log.Info("run resumed")
		case engine.TaskSelected:
			log.Info("task selected", "task", ev.Task.ID, "title", ev.Task.Title, "iteration", ev.Iteration)
		case engine.IterationStarted:
			log.Info("iteration started", "iteration", ev.Iteration, "task", ev.Task.ID)
		case engine.IterationCompleted:
			r := ev.Result
			args := []any{
				"iteration", r.Iteration,
				"task", r.Task.ID,
				"status", r.Status,
				"task_completed", r.TaskCompleted,
				"duration_ms", r.DurationMs,
			}
			if r.Signal != engine.SignalNone {
				args = append(args, "signal", r.Signal.String(), "signal_reason", r.SignalReason)
			}
			if r.Agent != nil {
				args = append(args, "tokens_in", r.Agent.TokensIn, "tokens_out", r.Agent.TokensOut, "cost", r.Agent.Cost)
			}
			log.Info("iteration completed", args...)
		case engine.IterationFailed:
			log.Warn("iteration failed", "iteration", ev.Iteration, "task", ev.Task.ID, "error", ev.Error)
		case engine.TaskCompleted:
			log.Info("task completed", "task", ev.Task.ID, "iteration", ev.Iteration)
		case engine.AgentOutput:
			if ev.Stream == agent.StreamStderr {
				log.Debug("agent stderr", "line", strings.TrimRight(ev.Data, "\n"))
			}
		default:
			log.Debug("unhandled event", "kind", ev.Kind())
		}
	}
}
