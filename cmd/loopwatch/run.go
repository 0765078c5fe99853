package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/loopwatch/loopwatch/internal/agent"
	"github.com/loopwatch/loopwatch/internal/config"
	"github.com/loopwatch/loopwatch/internal/engine"
	"github.com/loopwatch/loopwatch/internal/history"
	"github.com/loopwatch/loopwatch/internal/logging"
	"github.com/loopwatch/loopwatch/internal/plan"
	"github.com/loopwatch/loopwatch/internal/ticks"
	"github.com/loopwatch/loopwatch/internal/tui"
	"github.com/loopwatch/loopwatch/internal/verify"
	"github.com/loopwatch/loopwatch/internal/view"
)

var runCmd = &cobra.Command{
	Use:   "run [plan.yaml]",
	Short: "Run the agent loop over a plan file or a ticks epic",
	Long: `Run starts the agent loop. Tasks come either from a YAML plan file or,
with --epic, from the ticks issue tracker. The agent iterates through tasks
until all are complete, it signals EJECT or BLOCKED, or a limit is reached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLoop,
}

func init() {
	runCmd.Flags().String("epic", "", "Take tasks from this ticks epic instead of a plan file")
	runCmd.Flags().Bool("headless", false, "Run without the dashboard, writing [TAG] lines to stdout")
	runCmd.Flags().Bool("jsonl", false, "Headless output as JSON Lines (implies --headless)")
	runCmd.Flags().IntP("max-iterations", "n", engine.DefaultMaxIterations, "Maximum number of iterations")
	runCmd.Flags().String("agent", "", "Agent command to run (default from config: claude)")
}

// taskSource resolves where tasks come from. It returns the source, a title
// for display and a label for the history.
func taskSource(epic string, args []string) (engine.TaskSource, string, string, error) {
	switch {
	case epic != "" && len(args) > 0:
		return nil, "", "", errors.New("use either a plan file or --epic, not both")
	case epic != "":
		client := ticks.NewClient()
		title := epic
		if e, err := client.GetEpic(epic); err == nil && e.Title != "" {
			title = e.Title
		}
		return ticks.NewSource(client, epic), title, "epic " + epic, nil
	case len(args) == 1:
		f, err := plan.Load(args[0])
		if err != nil {
			return nil, "", "", err
		}
		title := f.Title()
		if title == "" {
			title = f.Path()
		}
		return f, title, f.Path(), nil
	default:
		return nil, "", "", errors.New("provide a plan file or --epic")
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	loader := config.NewLoader(dir)
	if err := loader.BindFlag("run.max_iterations", cmd.Flags().Lookup("max-iterations")); err != nil {
		return nil, err
	}
	if err := loader.BindFlag("agent.command", cmd.Flags().Lookup("agent")); err != nil {
		return nil, err
	}
	return loader.Load()
}

func runLoop(cmd *cobra.Command, args []string) error {
	epic, _ := cmd.Flags().GetString("epic")
	jsonl, _ := cmd.Flags().GetBool("jsonl")
	headless, _ := cmd.Flags().GetBool("headless")
	headless = headless || jsonl

	src, title, label, err := taskSource(epic, args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// The dashboard owns the terminal, so logs go to a file unless headless.
	var logOut io.Writer = cmd.ErrOrStderr()
	if !headless {
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logOut})

	a := agent.NewClaudeAgent()
	a.Command = cfg.Agent.Command
	if !a.Available() {
		return fmt.Errorf("agent command %q not found in PATH", cfg.Agent.Command)
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	// history writes must survive an interrupt
	storeCtx := context.WithoutCancel(ctx)

	run, err := store.CreateRun(storeCtx, label)
	if err != nil {
		return err
	}
	log.Info("run created", "run", run.ID, "source", label)

	eng := engine.NewEngine(a, src)
	eng.Subscribe(logging.EventListener(log))
	eng.Subscribe(history.NewRecorder(storeCtx, store, run.ID, cfg.OutputDir, log).Handle)
	if cfg.Verify.Enabled {
		if v := gitVerifier(args); v != nil {
			eng.Subscribe(verify.Listener(storeCtx, v, log))
		}
	}

	runCfg := engine.RunConfig{
		MaxIterations:  cfg.Run.MaxIterations,
		AgentTimeout:   cfg.Agent.Timeout,
		MaxTaskRetries: cfg.Run.MaxTaskRetries,
	}

	var result *engine.RunResult
	var runErr error
	if headless {
		out := engine.NewHeadlessOutput(cmd.OutOrStdout(), jsonl)
		eng.Subscribe(out.Handle)
		result, runErr = eng.Run(ctx, runCfg)
		if result != nil {
			out.Complete(result)
		}
	} else {
		result, runErr = runDashboard(ctx, eng, title, runCfg, cfg.UI.TickInterval)
	}

	if result != nil {
		if err := store.FinishRun(storeCtx, run.ID, result); err != nil {
			log.Error("finish run", "run", run.ID, "error", err)
		}
		if !headless {
			printSummary(cmd.OutOrStdout(), run.ID, result)
		}
	}
	return runErr
}

// gitVerifier returns a verifier for the working directory that ignores
// files loopwatch itself writes, or nil outside a git repository.
func gitVerifier(args []string) *verify.GitVerifier {
	dir, err := os.Getwd()
	if err != nil {
		return nil
	}
	exclude := []string{config.DirName + "/", ".tick/"}
	if len(args) == 1 {
		if abs, err := filepath.Abs(args[0]); err == nil {
			if rel, err := filepath.Rel(dir, abs); err == nil {
				exclude = append(exclude, filepath.ToSlash(rel))
			}
		}
	}
	return verify.NewGitVerifier(dir, exclude...)
}

// runDashboard runs the engine behind the interactive dashboard. It returns
// when the operator quits; a run still in progress is stopped first.
func runDashboard(ctx context.Context, eng *engine.Engine, title string, runCfg engine.RunConfig, tick time.Duration) (*engine.RunResult, error) {
	// Projector and engine callbacks feed the program through one queue so
	// they never block on the program's event loop.
	msgs := make(chan tea.Msg, 256)

	proj := view.Attach(eng, view.Options{
		TickInterval: tick,
		OnChange:     func(s view.RunViewState) { msgs <- tui.StateMsg{State: s} },
	})

	unsubscribe := eng.Subscribe(func(ev engine.Event) {
		switch ev := ev.(type) {
		case engine.IterationCompleted:
			msgs <- tui.IterationResultMsg{Result: ev.Result}
		case engine.IterationFailed:
			msgs <- tui.IterationResultMsg{Result: ev.Result}
		}
	})

	prog := tea.NewProgram(tui.New(tui.Config{
		Title:         title,
		MaxIterations: runCfg.MaxIterations,
		Controller:    eng,
		Selector:      proj,
	}), tea.WithAltScreen(), tea.WithContext(ctx))

	forwarded := forward(msgs, prog.Send)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *engine.RunResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Run(runCtx, runCfg)
		msgs <- tui.RunFinishedMsg{Result: result, Err: err}
		done <- outcome{result, err}
	}()

	_, progErr := prog.Run()

	eng.Stop()
	cancel()
	out := <-done

	// nothing writes to msgs once the projector and listener are gone
	unsubscribe()
	proj.Close()
	close(msgs)
	<-forwarded

	if progErr != nil && !errors.Is(progErr, tea.ErrProgramKilled) {
		return out.result, fmt.Errorf("dashboard: %w", progErr)
	}
	return out.result, out.err
}

// forward passes msgs to send in order until msgs is closed. The returned
// channel is closed when it has stopped.
func forward(msgs <-chan tea.Msg, send func(tea.Msg)) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for msg := range msgs {
			send(msg)
		}
	}()
	return stopped
}

func printSummary(w io.Writer, runID string, result *engine.RunResult) {
	fmt.Fprintf(w, "Run %s: %s", runID, result.Reason)
	if result.Detail != "" {
		fmt.Fprintf(w, " (%s)", result.Detail)
	}
	fmt.Fprintf(w, "\n  %d iterations, %d tasks completed, %d tokens, $%.4f, %s\n",
		result.Iterations, len(result.CompletedTasks), result.TotalTokens, result.TotalCost,
		result.Duration.Round(time.Second))
}
