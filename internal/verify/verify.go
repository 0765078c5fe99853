// Package verify checks the working tree after the agent closes a task.
// Agents are told to commit their work; a dirty tree after a completed
// task usually means they forgot.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/loopwatch/loopwatch/internal/engine"
	"github.com/loopwatch/loopwatch/internal/logging"
)

// Result is the outcome of one check.
type Result struct {
	Clean bool
	// Changes lists the uncommitted paths in git status --porcelain form.
	Changes  []string
	Duration time.Duration
	Err      error
}

func (r *Result) String() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("check failed: %v", r.Err)
	case r.Clean:
		return "working tree clean"
	default:
		return fmt.Sprintf("%d uncommitted change(s)", len(r.Changes))
	}
}

// GitVerifier reports uncommitted changes in a git working tree.
type GitVerifier struct {
	dir     string
	exclude []string
}

// NewGitVerifier returns a verifier for dir, or nil if dir is not the root
// of a git repository. Paths starting with one of the exclude prefixes
// (relative to dir, slash separated) are ignored; loopwatch's own state
// lives there.
func NewGitVerifier(dir string, exclude ...string) *GitVerifier {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil || !info.IsDir() {
		return nil
	}
	return &GitVerifier{dir: dir, exclude: exclude}
}

// Verify runs git status in the verifier's directory.
func (v *GitVerifier) Verify(ctx context.Context) *Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = v.dir
	out, err := cmd.Output()

	res := &Result{Duration: time.Since(start)}
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			res.Err = fmt.Errorf("git not available: %w", err)
		} else {
			res.Err = fmt.Errorf("git status: %w", err)
		}
		return res
	}

	res.Changes = v.filter(string(out))
	res.Clean = len(res.Changes) == 0
	return res
}

// filter drops blank lines and excluded paths from porcelain output. Each
// line is "XY PATH".
func (v *GitVerifier) filter(output string) []string {
	var changes []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		path := ""
		if len(line) > 3 {
			path = line[3:]
		}
		if v.excluded(path) {
			continue
		}
		changes = append(changes, line)
	}
	return changes
}

func (v *GitVerifier) excluded(path string) bool {
	for _, prefix := range v.exclude {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Listener returns an engine listener that checks the tree each time a
// task is completed and logs a warning when changes were left uncommitted.
func Listener(ctx context.Context, v *GitVerifier, l *logging.Logger) engine.Listener {
	log := l.Component("verify")
	return func(ev engine.Event) {
		done, ok := ev.(engine.TaskCompleted)
		if !ok {
			return
		}
		res := v.Verify(ctx)
		switch {
		case res.Err != nil:
			log.Warn("verification failed", "task", done.Task.ID, "error", res.Err)
		case !res.Clean:
			log.Warn("uncommitted changes after task",
				"task", done.Task.ID,
				"iteration", done.Iteration,
				"count", len(res.Changes),
				"changes", strings.Join(res.Changes, "; "))
		default:
			log.Debug("working tree clean", "task", done.Task.ID, "duration", res.Duration)
		}
	}
}
