package agent

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClaudeAgent_Name(t *testing.T) {
	agent := NewClaudeAgent()
	if got := agent.Name(); got != "claude" {
		t.Errorf("Name() = %q, want %q", got, "claude")
	}
}

func TestClaudeAgent_Available_CustomCommand(t *testing.T) {
	agent := &ClaudeAgent{Command: "nonexistent-claude-binary-xyz"}
	if agent.Available() {
		t.Error("Available() = true for nonexistent command, want false")
	}
}

func TestClaudeAgent_command(t *testing.T) {
	tests := []struct {
		name  string
		agent *ClaudeAgent
		want  string
	}{
		{
			name:  "default command",
			agent: &ClaudeAgent{},
			want:  "claude",
		},
		{
			name:  "custom command",
			agent: &ClaudeAgent{Command: "/usr/local/bin/claude"},
			want:  "/usr/local/bin/claude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.agent.command(); got != tt.want {
				t.Errorf("command() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseUsageFromOutput(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		wantIn   int
		wantOut  int
		wantCost float64
	}{
		{name: "empty output", output: ""},
		{name: "input tokens format 1", output: "Input tokens: 1234", wantIn: 1234},
		{name: "input tokens format 2", output: "1234 input tokens", wantIn: 1234},
		{name: "output tokens format 1", output: "Output tokens: 5678", wantOut: 5678},
		{name: "output tokens format 2", output: "5678 output tokens", wantOut: 5678},
		{name: "cost format 1", output: "Cost: $1.23", wantCost: 1.23},
		{name: "cost format 2", output: "$2.50 total", wantCost: 2.50},
		{name: "cost with thousands separator", output: "Cost: $1,024.50", wantCost: 1024.50},
		{
			name:     "all metrics",
			output:   "Input tokens: 1000\nOutput tokens: 2000\nCost: $0.50",
			wantIn:   1000,
			wantOut:  2000,
			wantCost: 0.50,
		},
		{
			name:     "lowercase metrics",
			output:   "input: 500\noutput: 750\ncost: $0.25",
			wantIn:   500,
			wantOut:  750,
			wantCost: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotIn, gotOut, gotCost := parseUsageFromOutput(tt.output)
			if gotIn != tt.wantIn {
				t.Errorf("tokensIn = %d, want %d", gotIn, tt.wantIn)
			}
			if gotOut != tt.wantOut {
				t.Errorf("tokensOut = %d, want %d", gotOut, tt.wantOut)
			}
			if gotCost != tt.wantCost {
				t.Errorf("cost = %f, want %f", gotCost, tt.wantCost)
			}
		})
	}
}

// writeScript creates an executable shell script standing in for the claude CLI.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on Windows")
	}
	path := filepath.Join(t.TempDir(), "fake-claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestClaudeAgent_Run_StreamsBothStreams(t *testing.T) {
	script := writeScript(t, `echo "line one"
echo "Input tokens: 42" 1>&2
echo "line two"
`)
	agent := &ClaudeAgent{Command: script}

	var mu sync.Mutex
	got := map[Stream][]string{}
	result, err := agent.Run(context.Background(), "prompt", RunOpts{
		OnOutput: func(stream Stream, data string) {
			mu.Lock()
			defer mu.Unlock()
			got[stream] = append(got[stream], data)
		},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Stdout != "line one\nline two\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "line one\nline two\n")
	}
	if !strings.Contains(result.Stderr, "Input tokens: 42") {
		t.Errorf("Stderr = %q, want it to contain the usage line", result.Stderr)
	}
	if result.TokensIn != 42 {
		t.Errorf("TokensIn = %d, want 42", result.TokensIn)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if len(got[StreamStdout]) != 2 {
		t.Errorf("stdout chunks = %v, want 2 lines", got[StreamStdout])
	}
	if len(got[StreamStderr]) != 1 {
		t.Errorf("stderr chunks = %v, want 1 line", got[StreamStderr])
	}
}

func TestClaudeAgent_Run_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "partial"
echo "boom" 1>&2
exit 3
`)
	agent := &ClaudeAgent{Command: script}

	result, err := agent.Run(context.Background(), "prompt", RunOpts{})
	if err == nil {
		t.Fatal("Run() should fail on non-zero exit")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q should include stderr", err)
	}
	if result == nil || result.Stdout != "partial\n" {
		t.Errorf("expected partial stdout to be kept, got %+v", result)
	}
	if result != nil && result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestClaudeAgent_Run_ContextCancellation(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	script := writeScript(t, "exec sleep 10\n")
	agent := &ClaudeAgent{Command: script}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := agent.Run(ctx, "prompt", RunOpts{})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Run() error = %v, want ErrCancelled", err)
	}
}

func TestClaudeAgent_Run_Timeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	script := writeScript(t, "echo started\nexec sleep 10\n")
	agent := &ClaudeAgent{Command: script}

	start := time.Now()
	result, err := agent.Run(context.Background(), "prompt", RunOpts{Timeout: 200 * time.Millisecond})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Run() error = %v, want ErrTimeout", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Run() took %v, expected timeout around 200ms", elapsed)
	}
	if result == nil || result.Stdout != "started\n" {
		t.Errorf("expected partial output on timeout, got %+v", result)
	}
}
