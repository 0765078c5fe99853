package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopwatch/loopwatch/internal/engine"
	"github.com/loopwatch/loopwatch/internal/logging"
	"github.com/loopwatch/loopwatch/internal/timeline"
)

// Recorder persists finished iterations of one run. Register Handle with
// Engine.Subscribe. Failures are logged; they never stop the run.
type Recorder struct {
	ctx       context.Context
	store     *Store
	runID     string
	outputDir string
	log       *logging.Logger
}

// NewRecorder returns a recorder saving iterations of runID to store and
// their output files under outputDir.
func NewRecorder(ctx context.Context, store *Store, runID, outputDir string, log *logging.Logger) *Recorder {
	return &Recorder{
		ctx:       ctx,
		store:     store,
		runID:     runID,
		outputDir: outputDir,
		log:       log.Component("history").With("run", runID),
	}
}

// Handle saves iteration results as they complete.
func (r *Recorder) Handle(ev engine.Event) {
	switch ev := ev.(type) {
	case engine.IterationCompleted:
		r.save(ev.Result)
	case engine.IterationFailed:
		r.save(ev.Result)
	}
}

func (r *Recorder) save(result engine.IterationResult) {
	var outputPath string
	if result.Agent != nil {
		path, err := r.writeOutput(result)
		if err != nil {
			r.log.Warn("write iteration output", "iteration", result.Iteration, "error", err)
		} else {
			outputPath = path
		}
	}

	if err := r.store.SaveIteration(r.ctx, r.runID, result, outputPath); err != nil {
		r.log.Error("save iteration", "iteration", result.Iteration, "error", err)
		return
	}
	r.log.Debug("iteration saved", "iteration", result.Iteration, "output", outputPath)
}

func (r *Recorder) writeOutput(result engine.IterationResult) (string, error) {
	path := timeline.FormatOutputPath(result.Iteration, result.Task.ID, r.outputDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(RenderMarkdown(r.runID, result)), 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}

// RenderMarkdown formats an iteration as a standalone markdown document.
func RenderMarkdown(runID string, result engine.IterationResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Iteration %d: %s", result.Iteration, result.Task.ID)
	if result.Task.Title != "" {
		fmt.Fprintf(&b, " - %s", result.Task.Title)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "- Run: %s\n", runID)
	fmt.Fprintf(&b, "- Status: %s\n", result.Status)
	fmt.Fprintf(&b, "- Duration: %s\n", timeline.FormatDuration(result.DurationMs))
	if result.Agent != nil {
		fmt.Fprintf(&b, "- Tokens: %d in / %d out\n", result.Agent.TokensIn, result.Agent.TokensOut)
		fmt.Fprintf(&b, "- Cost: $%.4f\n", result.Agent.Cost)
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", result.Error)
	}

	b.WriteString("\n## Timeline\n\n")
	for _, ev := range timeline.BuildTimeline(result) {
		fmt.Fprintf(&b, "- %s %s\n", timeline.FormatTimestamp(ev.Timestamp), ev.Description)
	}

	b.WriteString("\n## Output\n\n")
	b.WriteString(result.Stdout())
	if !strings.HasSuffix(result.Stdout(), "\n") {
		b.WriteString("\n")
	}

	if result.Agent != nil && strings.TrimSpace(result.Agent.Stderr) != "" {
		b.WriteString("\n## Stderr\n\n```text\n")
		b.WriteString(strings.TrimRight(result.Agent.Stderr, "\n"))
		b.WriteString("\n```\n")
	}

	return b.String()
}
