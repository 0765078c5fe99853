package verify

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loopwatch/loopwatch/internal/engine"
	"github.com/loopwatch/loopwatch/internal/logging"
)

func TestNewGitVerifier(t *testing.T) {
	t.Run("nil outside a repository", func(t *testing.T) {
		if v := NewGitVerifier(t.TempDir()); v != nil {
			t.Error("expected nil for a plain directory")
		}
	})

	t.Run("nil when .git is a file", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere"), 0644); err != nil {
			t.Fatal(err)
		}
		if v := NewGitVerifier(dir); v != nil {
			t.Error("expected nil when .git is a file")
		}
	})

	t.Run("repository", func(t *testing.T) {
		dir := createTempGitRepo(t)
		v := NewGitVerifier(dir, ".loopwatch/")
		if v == nil {
			t.Fatal("expected a verifier")
		}
		if v.dir != dir {
			t.Errorf("dir = %q, want %q", v.dir, dir)
		}
	})
}

func TestGitVerifier_Verify(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, dir string)
		wantClean bool
		wantPath  string
	}{
		{
			name:      "clean",
			setup:     func(*testing.T, string) {},
			wantClean: true,
		},
		{
			name: "modified",
			setup: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, "initial.txt"), "changed")
			},
			wantPath: "initial.txt",
		},
		{
			name: "untracked",
			setup: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, "new.txt"), "new")
			},
			wantPath: "new.txt",
		},
		{
			name: "staged",
			setup: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, "staged.txt"), "staged")
				git(t, dir, "add", "staged.txt")
			},
			wantPath: "staged.txt",
		},
		{
			name: "excluded state only",
			setup: func(t *testing.T, dir string) {
				if err := os.MkdirAll(filepath.Join(dir, ".loopwatch"), 0755); err != nil {
					t.Fatal(err)
				}
				writeFile(t, filepath.Join(dir, ".loopwatch", "history.db"), "x")
				writeFile(t, filepath.Join(dir, "plan.yaml"), "tasks: []")
			},
			wantClean: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := createTempGitRepo(t)
			tt.setup(t, dir)

			res := NewGitVerifier(dir, ".loopwatch/", "plan.yaml").Verify(context.Background())
			if res.Err != nil {
				t.Fatalf("Verify error: %v", res.Err)
			}
			if res.Clean != tt.wantClean {
				t.Errorf("Clean = %v, want %v (changes %v)", res.Clean, tt.wantClean, res.Changes)
			}
			if tt.wantPath != "" && !strings.Contains(strings.Join(res.Changes, "\n"), tt.wantPath) {
				t.Errorf("changes %v do not mention %s", res.Changes, tt.wantPath)
			}
		})
	}
}

func TestGitVerifier_Cancelled(t *testing.T) {
	dir := createTempGitRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewGitVerifier(dir).Verify(ctx)
	if res.Err == nil || res.Clean {
		t.Errorf("expected an error for a cancelled context, got %+v", res)
	}
}

func TestResult_String(t *testing.T) {
	if got := (&Result{Clean: true}).String(); got != "working tree clean" {
		t.Errorf("String() = %q", got)
	}
	if got := (&Result{Changes: []string{" M a", "?? b"}}).String(); got != "2 uncommitted change(s)" {
		t.Errorf("String() = %q", got)
	}
}

func TestListener(t *testing.T) {
	dir := createTempGitRepo(t)
	writeFile(t, filepath.Join(dir, "leftover.go"), "package x")

	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Output: &buf})
	listen := Listener(context.Background(), NewGitVerifier(dir), log)

	listen(engine.IterationStarted{Iteration: 1, Task: engine.Task{ID: "T-1"}})
	if buf.Len() != 0 {
		t.Fatalf("unexpected log output for other events: %s", buf.String())
	}

	listen(engine.TaskCompleted{Task: engine.Task{ID: "T-1"}, Iteration: 1})
	out := buf.String()
	if !strings.Contains(out, "uncommitted changes after task") || !strings.Contains(out, "leftover.go") {
		t.Errorf("log output = %s", out)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
}

// createTempGitRepo returns a repository with one commit of initial.txt.
func createTempGitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "config", "user.email", "test@test.com")
	git(t, dir, "config", "user.name", "Test User")
	writeFile(t, filepath.Join(dir, "initial.txt"), "initial content")
	git(t, dir, "add", "initial.txt")
	git(t, dir, "commit", "-m", "Initial commit")
	return dir
}
