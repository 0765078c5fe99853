package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/loopwatch/loopwatch/internal/view"
)

// Status icons
var (
	iconPending = lipgloss.NewStyle().Foreground(mutedColor).Render("○")
	iconActive  = lipgloss.NewStyle().Foreground(warningColor).Render("◐")
	iconDone    = lipgloss.NewStyle().Foreground(successColor).Render("●")
	iconBlocked = lipgloss.NewStyle().Foreground(errorColor).Render("⊘")

	cursorMarker = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render("▶")

	selectedTaskStyle = lipgloss.NewStyle().Bold(true)
)

func statusIcon(status view.TaskStatus) string {
	switch status {
	case view.TaskActive:
		return iconActive
	case view.TaskDone:
		return iconDone
	case view.TaskBlocked:
		return iconBlocked
	default:
		return iconPending
	}
}

// renderTaskLine renders one roster entry, truncated to width.
func renderTaskLine(task view.TaskItem, selected bool, width int) string {
	prefix := "  "
	if selected {
		prefix = cursorMarker + " "
	}

	label := truncate(fmt.Sprintf("[%s] %s", task.ID, task.Title), max(width-4, 4))
	if selected {
		label = selectedTaskStyle.Render(label)
	}
	return prefix + statusIcon(task.Status) + " " + label
}

// renderTaskList renders the roster as a window of height lines that keeps
// the selected task visible.
func renderTaskList(state view.RunViewState, width, height int) string {
	n := state.Tasks.Len()
	if n == 0 {
		return statusLabelStyle.Render("Waiting for the first task...")
	}

	start := 0
	if height > 0 && state.SelectedIndex >= height {
		start = state.SelectedIndex - height + 1
	}
	end := n
	if height > 0 && start+height < end {
		end = start + height
	}

	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		lines = append(lines, renderTaskLine(state.Tasks.At(i), i == state.SelectedIndex, width))
	}
	return strings.Join(lines, "\n")
}

// currentTask returns the task of the running iteration, falling back to the
// selected task.
func currentTask(state view.RunViewState) (view.TaskItem, bool) {
	for _, t := range state.Tasks.Items() {
		if t.Status == view.TaskActive && t.Iteration == state.CurrentIteration {
			return t, true
		}
	}
	return state.Selected()
}
