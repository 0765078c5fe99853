package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ClaudeAgent implements the Agent interface for Claude Code CLI.
type ClaudeAgent struct {
	// Command is the path to the claude binary. Defaults to "claude".
	Command string
}

// NewClaudeAgent creates a new Claude Code agent with default settings.
func NewClaudeAgent() *ClaudeAgent {
	return &ClaudeAgent{Command: "claude"}
}

// Name returns "claude".
func (a *ClaudeAgent) Name() string {
	return "claude"
}

// Available checks if the claude CLI is installed and accessible.
func (a *ClaudeAgent) Available() bool {
	_, err := exec.LookPath(a.command())
	return err == nil
}

// Run executes claude with the given prompt.
// Uses --dangerously-skip-permissions for autonomous operation and --print to
// get output without interactive mode. Both stdout and stderr are streamed
// through opts.OnOutput as lines arrive.
//
// On timeout or cancellation the returned Result carries the partial output
// together with ErrTimeout or ErrCancelled.
func (a *ClaudeAgent) Run(ctx context.Context, prompt string, opts RunOpts) (*Result, error) {
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{
		"--dangerously-skip-permissions",
		"--print",
		prompt,
	}

	cmd := exec.CommandContext(ctx, a.command(), args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start claude: %w", err)
	}

	var (
		emitMu         sync.Mutex
		stdout, stderr strings.Builder
		wg             sync.WaitGroup
	)
	emit := func(stream Stream, buf *strings.Builder, line string) {
		emitMu.Lock()
		defer emitMu.Unlock()
		buf.WriteString(line)
		if opts.OnOutput != nil {
			opts.OnOutput(stream, line)
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdoutPipe, func(line string) { emit(StreamStdout, &stdout, line) })
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, func(line string) { emit(StreamStderr, &stderr, line) })
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	result.TokensIn, result.TokensOut, result.Cost = parseUsageFromOutput(result.Stderr)

	if waitErr != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return result, fmt.Errorf("claude timed out after %v: %w", opts.Timeout, ErrTimeout)
		case errors.Is(ctx.Err(), context.Canceled):
			return result, ErrCancelled
		}
		return result, fmt.Errorf("claude exited with error: %w\nstderr: %s", waitErr, strings.TrimSpace(result.Stderr))
	}

	return result, nil
}

// scanLines feeds each line of r, newline included, to fn.
func scanLines(r io.Reader, fn func(line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB max line size
	for scanner.Scan() {
		fn(scanner.Text() + "\n")
	}
}

// command returns the claude binary path.
func (a *ClaudeAgent) command() string {
	if a.Command != "" {
		return a.Command
	}
	return "claude"
}

var (
	inputPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[Ii]nput\s*(?:tokens)?[:\s]+(\d+)`),
		regexp.MustCompile(`(\d+)\s*input\s*tokens?`),
	}

	outputPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[Oo]utput\s*(?:tokens)?[:\s]+(\d+)`),
		regexp.MustCompile(`(\d+)\s*output\s*tokens?`),
	}

	costPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[Cc]ost[:\s]+\$?([\d.,]+)`),
		regexp.MustCompile(`\$([\d.,]+)\s*(?:total|cost)?`),
	}
)

// parseUsageFromOutput attempts to extract token usage from claude's output.
// Returns (tokensIn, tokensOut, cost).
func parseUsageFromOutput(output string) (int, int, float64) {
	var tokensIn, tokensOut int
	var cost float64

	for _, re := range inputPatterns {
		if m := re.FindStringSubmatch(output); len(m) > 1 {
			if v, err := strconv.Atoi(m[1]); err == nil {
				tokensIn = v
				break
			}
		}
	}

	for _, re := range outputPatterns {
		if m := re.FindStringSubmatch(output); len(m) > 1 {
			if v, err := strconv.Atoi(m[1]); err == nil {
				tokensOut = v
				break
			}
		}
	}

	for _, re := range costPatterns {
		if m := re.FindStringSubmatch(output); len(m) > 1 {
			s := strings.ReplaceAll(m[1], ",", "")
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				cost = v
				break
			}
		}
	}

	return tokensIn, tokensOut, cost
}
