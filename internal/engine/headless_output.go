package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/loopwatch/loopwatch/internal/agent"
)

// HeadlessOutput renders engine events for headless mode, optimized for LLM
// consumption. It writes either human-readable lines with [TAG] prefixes or
// JSON Lines. Register Handle with Engine.Subscribe.
type HeadlessOutput struct {
	mu     sync.Mutex
	jsonl  bool
	writer io.Writer
	// atLineStart tracks whether streamed text ended with a newline.
	atLineStart bool
}

// NewHeadlessOutput creates a new headless output formatter writing to w.
func NewHeadlessOutput(w io.Writer, jsonl bool) *HeadlessOutput {
	return &HeadlessOutput{
		jsonl:       jsonl,
		writer:      w,
		atLineStart: true,
	}
}

// Handle renders a single engine event.
func (h *HeadlessOutput) Handle(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev := ev.(type) {
	case EngineStarted:
		h.line("START", "Run started", map[string]any{"type": "start"})
	case TaskSelected:
		h.line("TASK", fmt.Sprintf("%s - %s (iteration %d)", ev.Task.ID, ev.Task.Title, ev.Iteration), map[string]any{
			"type":      "task",
			"task_id":   ev.Task.ID,
			"title":     ev.Task.Title,
			"iteration": ev.Iteration,
		})
	case AgentOutput:
		h.output(ev)
	case IterationFailed:
		h.line("ERROR", ev.Error, map[string]any{
			"type":      "error",
			"iteration": ev.Iteration,
			"task_id":   ev.Task.ID,
			"error":     ev.Error,
		})
	case IterationCompleted:
		r := ev.Result
		if r.Signal != SignalNone {
			h.signal(r.Signal, r.SignalReason)
		}
		h.line("ITERATION", fmt.Sprintf("%d %s in %dms", r.Iteration, r.Status, r.DurationMs), map[string]any{
			"type":        "iteration",
			"iteration":   r.Iteration,
			"task_id":     r.Task.ID,
			"status":      string(r.Status),
			"duration_ms": r.DurationMs,
		})
	case TaskCompleted:
		h.line("TASK_COMPLETE", ev.Task.ID, map[string]any{
			"type":      "task_complete",
			"task_id":   ev.Task.ID,
			"iteration": ev.Iteration,
		})
	case EnginePaused:
		h.line("PAUSED", "Run paused", map[string]any{"type": "paused"})
	case EngineResumed:
		h.line("RESUMED", "Run resumed", map[string]any{"type": "resumed"})
	case EngineStopped:
		if ev.Reason == StopInterrupted {
			h.line("INTERRUPTED", "Run interrupted by user", map[string]any{"type": "interrupted"})
			return
		}
		h.line("STOPPED", fmt.Sprintf("%s: %s", ev.Reason, ev.Detail), map[string]any{
			"type":   "stopped",
			"reason": string(ev.Reason),
			"detail": ev.Detail,
		})
	}
}

// Complete outputs the final summary.
func (h *HeadlessOutput) Complete(result *RunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.jsonl {
		h.writeJSON(map[string]any{
			"type":            "complete",
			"iterations":      result.Iterations,
			"completed_tasks": result.CompletedTasks,
			"duration_ms":     result.Duration.Milliseconds(),
			"total_cost":      result.TotalCost,
			"total_tokens":    result.TotalTokens,
			"exit_reason":     string(result.Reason),
			"signal":          result.Signal.String(),
		})
		return
	}

	h.breakLine()
	fmt.Fprintf(h.writer, "[COMPLETE] %d iterations, %d tasks closed, %v, $%.4f\n",
		result.Iterations, len(result.CompletedTasks), result.Duration.Round(1000000000), result.TotalCost)
	fmt.Fprintf(h.writer, "[COMPLETE] Tokens: %d\n", result.TotalTokens)
	fmt.Fprintf(h.writer, "[COMPLETE] Exit: %s\n", result.Reason)
}

func (h *HeadlessOutput) output(ev AgentOutput) {
	if h.jsonl {
		for _, line := range strings.Split(ev.Data, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			h.writeJSON(map[string]any{
				"type":   "output",
				"stream": string(ev.Stream),
				"text":   line,
			})
		}
		return
	}
	// stderr is only meaningful in the history; keep the stream readable
	if ev.Stream != agent.StreamStdout || ev.Data == "" {
		return
	}
	fmt.Fprint(h.writer, ev.Data)
	h.atLineStart = strings.HasSuffix(ev.Data, "\n")
}

func (h *HeadlessOutput) signal(sig Signal, reason string) {
	data := map[string]any{
		"type":   "signal",
		"signal": sig.String(),
	}
	if reason != "" {
		data["reason"] = reason
	}
	h.line(sig.String(), reason, data)
}

// line writes one tagged text line or one JSON object.
func (h *HeadlessOutput) line(tag, text string, data map[string]any) {
	if h.jsonl {
		h.writeJSON(data)
		return
	}
	h.breakLine()
	if text == "" {
		fmt.Fprintf(h.writer, "[%s]\n", tag)
		return
	}
	fmt.Fprintf(h.writer, "[%s] %s\n", tag, text)
}

// breakLine ends a partially streamed line so tags start in column one.
func (h *HeadlessOutput) breakLine() {
	if !h.atLineStart {
		fmt.Fprintln(h.writer)
		h.atLineStart = true
	}
}

// writeJSON writes a JSON object as a single line.
func (h *HeadlessOutput) writeJSON(data map[string]any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintln(h.writer, string(b))
}
