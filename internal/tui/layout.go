package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/loopwatch/loopwatch/internal/view"
)

// Layout constants
const (
	taskPanelWidth = 35
	minWidth       = 60
	minHeight      = 12
	chromeHeight   = 7 // header + status (2 lines) + footer + panel borders
)

// Color palette
var (
	primaryColor   = lipgloss.Color("205") // Pink
	secondaryColor = lipgloss.Color("86")  // Cyan
	mutedColor     = lipgloss.Color("241") // Gray
	successColor   = lipgloss.Color("78")  // Green
	warningColor   = lipgloss.Color("214") // Orange
	errorColor     = lipgloss.Color("196") // Red
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	statusItemStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	statusLabelStyle = lipgloss.NewStyle().
				Foreground(mutedColor)

	taskPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor)

	outputPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(secondaryColor)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	stoppedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	helpOverlayStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(1, 2)

	helpTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)
)

// panelSizes returns the inner output panel width and the panel height for
// the current window.
func (m Model) panelSizes() (outputWidth, height int) {
	height = max(m.height-chromeHeight, minHeight-chromeHeight+4)
	outputWidth = max(m.width-taskPanelWidth-4, 20)
	return outputWidth, height
}

// statusBadge renders the effective run status.
func statusBadge(status view.Status) string {
	switch status.Effective() {
	case view.StateRunning:
		return runningStyle.Render("● RUNNING")
	case view.StatePaused:
		return pausedStyle.Render("⏸ PAUSED")
	case view.StateError:
		return errorStyle.Render("✖ ERROR")
	default:
		return stoppedStyle.Render("■ STOPPED")
	}
}

// renderHeader renders the title with the run status right-aligned.
func (m Model) renderHeader() string {
	left := titleStyle.Render(fmt.Sprintf("⚡ loopwatch: %s", m.title))
	status := statusBadge(m.state.Status)

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(status)-2, 0)

	return headerStyle.Width(m.width).Render(
		left + lipgloss.NewStyle().Width(padding).Render("") + status,
	)
}

// renderStatusBar renders iteration, task, elapsed time and the progress bar.
func (m Model) renderStatusBar() string {
	iter := fmt.Sprintf("%d", m.state.CurrentIteration)
	if m.maxIter > 0 {
		iter = fmt.Sprintf("%d/%d", m.state.CurrentIteration, m.maxIter)
	}
	items := []string{
		statusLabelStyle.Render("Iter:") + " " + statusItemStyle.Render(iter),
	}

	if task, ok := currentTask(m.state); ok {
		items = append(items, statusLabelStyle.Render("Task:")+" "+
			statusItemStyle.Render(fmt.Sprintf("[%s] %s", task.ID, truncate(task.Title, 20))))
	}

	items = append(items, statusLabelStyle.Render("Time:")+" "+
		statusItemStyle.Render(formatDuration(time.Duration(m.state.ElapsedSeconds)*time.Second)))

	if o := m.state.Status.Override; o != nil {
		items = append(items, errorStyle.Render(truncate(o.Reason, 40)))
	}

	statsLine := lipgloss.JoinHorizontal(lipgloss.Center, join(items, " │ ")...)

	var progressLine string
	if m.maxIter > 0 {
		percent := float64(m.state.CurrentIteration) / float64(m.maxIter)
		progressLine = m.progress.ViewAs(min(percent, 1))
	}

	return statusBarStyle.Width(m.width).Render(
		lipgloss.JoinVertical(lipgloss.Left, statsLine, progressLine),
	)
}

// renderMainContent renders the task panel and the output panel side by side.
func (m Model) renderMainContent() string {
	outputWidth, height := m.panelSizes()

	taskPanel := taskPanelStyle.
		Width(taskPanelWidth).
		Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left,
			panelTitleStyle.Render("Tasks"),
			renderTaskList(m.state, taskPanelWidth-2, height-2),
		))

	outputPanel := outputPanelStyle.
		Width(outputWidth).
		Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left,
			panelTitleStyle.Render(m.outputTitle()),
			m.viewport.View(),
		))

	return lipgloss.JoinHorizontal(lipgloss.Top, taskPanel, outputPanel)
}

func (m Model) outputTitle() string {
	if !m.detail {
		return "Agent Output"
	}
	results := m.results[m.detailTask]
	if len(results) == 0 {
		return fmt.Sprintf("Detail [%s]", m.detailTask)
	}
	return fmt.Sprintf("Detail [%s] %d/%d", m.detailTask, m.detailPos+1, len(results))
}

// renderFooter renders the run outcome once finished, then the key help.
func (m Model) renderFooter() string {
	line := m.help.View(m.keys)
	if m.finished {
		outcome := "Run finished"
		if m.runErr != nil {
			outcome = errorStyle.Render(fmt.Sprintf("Run failed: %v", m.runErr))
		} else if m.summary != nil {
			outcome = fmt.Sprintf("Run finished: %s", m.summary.Reason)
			if m.summary.Detail != "" {
				outcome += " (" + m.summary.Detail + ")"
			}
		}
		line = lipgloss.JoinVertical(lipgloss.Left, outcome, line)
	}
	return footerStyle.Width(m.width).Render(line)
}

// renderHelpOverlay renders the full key map centered on the screen.
func (m Model) renderHelpOverlay() string {
	h := m.help
	h.ShowAll = true
	box := helpOverlayStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		helpTitleStyle.Render("Keyboard Shortcuts"),
		h.View(m.keys),
	))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// formatDuration formats a duration as M:SS or H:MM:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func join(items []string, sep string) []string {
	if len(items) == 0 {
		return nil
	}
	result := make([]string, 0, len(items)*2-1)
	for i, item := range items {
		if i > 0 {
			result = append(result, sep)
		}
		result = append(result, item)
	}
	return result
}
