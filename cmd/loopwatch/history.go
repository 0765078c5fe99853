package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/loopwatch/loopwatch/internal/history"
	"github.com/loopwatch/loopwatch/internal/timeline"
	"github.com/loopwatch/loopwatch/internal/tui"
)

const detailWidth = 100

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Browse past runs and their iterations",
	Long: `Without arguments, history lists recent runs. Given a run id (or a unique
prefix of one) it opens a picker over that run's iterations and shows the
chosen one. Use --iteration to show an iteration directly and --plain for
output without styling or interaction.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Bool("plain", false, "Plain output without styling or interaction")
	historyCmd.Flags().Int("iteration", 0, "Show this iteration of the run")
	historyCmd.Flags().Int("limit", 20, "Number of runs to list")
}

var headerCellStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func runHistory(cmd *cobra.Command, args []string) error {
	plain, _ := cmd.Flags().GetBool("plain")
	iteration, _ := cmd.Flags().GetInt("iteration")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		writeRuns(out, runs, plain)
		return nil
	}

	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}

	if iteration > 0 {
		it, err := store.GetIteration(ctx, run.ID, iteration)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iteration, err)
		}
		writeIteration(out, run.ID, it, plain)
		return nil
	}

	its, err := store.ListIterations(ctx, run.ID)
	if err != nil {
		return err
	}
	if plain || len(its) == 0 {
		writeIterations(out, run, its)
		return nil
	}

	final, err := tea.NewProgram(tui.NewPicker(run.ID, its), tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("picker: %w", err)
	}
	if picker, ok := final.(tui.Picker); ok {
		if sel := picker.Selected(); sel != nil {
			writeIteration(out, run.ID, sel, false)
		}
	}
	return nil
}

func writeRuns(w io.Writer, runs []history.Run, plain bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			r.Source,
			runOutcome(r),
			strconv.Itoa(r.Iterations),
			strconv.Itoa(r.CompletedTasks),
			fmt.Sprintf("$%.2f", r.TotalCost),
		})
	}
	headers := []string{"ID", "STARTED", "SOURCE", "OUTCOME", "ITER", "DONE", "COST"}

	if plain {
		for _, row := range append([][]string{headers}, rows...) {
			fmt.Fprintf(w, "%-8s  %-19s  %-24s  %-14s  %4s  %4s  %8s\n",
				row[0], row[1], row[2], row[3], row[4], row[5], row[6])
		}
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func writeIterations(w io.Writer, run *history.Run, its []history.Iteration) {
	fmt.Fprintf(w, "Run %s (%s): %s\n", run.ID, run.Source, runOutcome(*run))
	if len(its) == 0 {
		fmt.Fprintln(w, "No iterations recorded.")
		return
	}
	for _, it := range its {
		r := it.Result
		fmt.Fprintf(w, "%4d  %-12s  %-10s  %8s  %s\n",
			r.Iteration, r.Task.ID, r.Status, timeline.FormatDuration(r.DurationMs), r.Task.Title)
	}
}

func writeIteration(w io.Writer, runID string, it *history.Iteration, plain bool) {
	if plain {
		fmt.Fprint(w, history.RenderMarkdown(runID, it.Result))
		return
	}
	fmt.Fprintln(w, tui.RenderIteration(it.Result, detailWidth))
	if it.OutputPath != "" {
		fmt.Fprintf(w, "\nSaved to %s\n", it.OutputPath)
	}
}

func runOutcome(r history.Run) string {
	if r.EndedAt.IsZero() {
		return "in progress"
	}
	return string(r.Reason)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
