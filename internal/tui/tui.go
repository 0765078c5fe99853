// Package tui is the interactive dashboard for a running loop. It renders
// projector snapshots and lets the operator browse finished iterations.
package tui

import (
	"sort"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loopwatch/loopwatch/internal/engine"
	"github.com/loopwatch/loopwatch/internal/timeline"
	"github.com/loopwatch/loopwatch/internal/view"
)

// Controller is the part of the engine the dashboard drives.
// *engine.Engine satisfies it.
type Controller interface {
	Pause()
	Resume()
	Stop()
}

// Selector moves the task cursor. *view.Projector satisfies it.
type Selector interface {
	MoveSelection(delta int)
}

// Config holds dashboard configuration.
type Config struct {
	Title         string
	MaxIterations int
	Controller    Controller
	Selector      Selector
}

// Message types delivered by the host program.
type (
	// StateMsg carries a new projector snapshot.
	StateMsg struct {
		State view.RunViewState
	}

	// IterationResultMsg carries a finished iteration for the detail view.
	IterationResultMsg struct {
		Result engine.IterationResult
	}

	// RunFinishedMsg reports that Engine.Run returned.
	RunFinishedMsg struct {
		Result *engine.RunResult
		Err    error
	}
)

// Model is the Bubble Tea model of the dashboard.
type Model struct {
	title   string
	maxIter int
	ctrl    Controller
	sel     Selector

	state   view.RunViewState
	results map[string][]engine.IterationResult

	// detail view of one task's finished iterations
	detail     bool
	detailTask string
	detailPos  int

	finished bool
	summary  *engine.RunResult
	runErr   error

	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	progress progress.Model
	follow   bool
	showHelp bool
	quitting bool

	width  int
	height int
	ready  bool
}

// New creates the dashboard model.
func New(cfg Config) Model {
	vp := viewport.New(80, 20)
	vp.SetContent("Waiting for agent output...")

	h := help.New()
	h.Styles.ShortKey = footerStyle.Bold(true)
	h.Styles.ShortDesc = footerStyle
	h.Styles.ShortSeparator = footerStyle

	return Model{
		title:    cfg.Title,
		maxIter:  cfg.MaxIterations,
		ctrl:     cfg.Controller,
		sel:      cfg.Selector,
		results:  make(map[string][]engine.IterationResult),
		keys:     DefaultKeyMap(),
		help:     h,
		viewport: vp,
		progress: progress.New(progress.WithDefaultGradient()),
		follow:   true,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(msg.Width, minWidth)
		m.height = max(msg.Height, minHeight)
		m.ready = true

		outputWidth, height := m.panelSizes()
		m.viewport.Width = outputWidth
		m.viewport.Height = height - 1
		m.progress.Width = max(m.width-20, 10)
		m.help.Width = m.width
		m.refresh()

	case StateMsg:
		m.state = msg.State
		if !m.detail {
			m.refresh()
		}

	case IterationResultMsg:
		m.addResult(msg.Result)
		if m.detail && msg.Result.Task.ID == m.detailTask {
			m.refresh()
		}

	case RunFinishedMsg:
		m.finished = true
		m.summary = msg.Result
		m.runErr = msg.Err

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help), key.Matches(msg, m.keys.Back):
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true

	case key.Matches(msg, m.keys.Pause):
		if m.finished || m.ctrl == nil {
			return m, nil
		}
		ctrl := m.ctrl
		if m.state.Status.Effective() == view.StatePaused {
			return m, func() tea.Msg { ctrl.Resume(); return nil }
		}
		return m, func() tea.Msg { ctrl.Pause(); return nil }

	case key.Matches(msg, m.keys.Stop):
		if m.finished || m.ctrl == nil {
			return m, nil
		}
		ctrl := m.ctrl
		return m, func() tea.Msg { ctrl.Stop(); return nil }

	case key.Matches(msg, m.keys.Up):
		if m.detail {
			m.scroll(-1)
			return m, nil
		}
		return m, m.moveSelection(-1)

	case key.Matches(msg, m.keys.Down):
		if m.detail {
			m.scroll(1)
			return m, nil
		}
		return m, m.moveSelection(1)

	case key.Matches(msg, m.keys.PageUp):
		m.scroll(-m.viewport.Height)

	case key.Matches(msg, m.keys.PageDown):
		m.scroll(m.viewport.Height)

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		m.follow = false

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		m.follow = true

	case key.Matches(msg, m.keys.Open):
		task, ok := m.state.Selected()
		if !ok {
			return m, nil
		}
		m.detail = true
		m.detailTask = task.ID
		m.detailPos = len(m.results[task.ID]) - 1
		m.refresh()
		m.viewport.GotoTop()

	case key.Matches(msg, m.keys.Back):
		if m.detail {
			m.detail = false
			m.follow = true
			m.refresh()
		}

	case key.Matches(msg, m.keys.PrevIter):
		if m.detail && m.detailPos > 0 {
			m.detailPos--
			m.refresh()
			m.viewport.GotoTop()
		}

	case key.Matches(msg, m.keys.NextIter):
		if m.detail && m.detailPos < len(m.results[m.detailTask])-1 {
			m.detailPos++
			m.refresh()
			m.viewport.GotoTop()
		}
	}

	return m, nil
}

// moveSelection asks the selector to move the cursor. The call runs as a
// command because the selector delivers the new state back to the program.
func (m Model) moveSelection(delta int) tea.Cmd {
	if m.sel == nil {
		return nil
	}
	sel := m.sel
	return func() tea.Msg {
		sel.MoveSelection(delta)
		return nil
	}
}

func (m *Model) scroll(lines int) {
	m.viewport.SetYOffset(m.viewport.YOffset + lines)
	m.follow = m.viewport.AtBottom()
}

// addResult stores a finished iteration, replacing an earlier record with
// the same iteration number.
func (m *Model) addResult(r engine.IterationResult) {
	list := m.results[r.Task.ID]
	for i := range list {
		if list[i].Iteration == r.Iteration {
			list[i] = r
			return
		}
	}
	list = append(list, r)
	sort.Slice(list, func(i, j int) bool { return list[i].Iteration < list[j].Iteration })
	m.results[r.Task.ID] = list

	if m.detail && r.Task.ID == m.detailTask && m.detailPos < 0 {
		m.detailPos = 0
	}
}

// refresh rebuilds the viewport content for the current mode.
func (m *Model) refresh() {
	width := m.viewport.Width

	if m.detail {
		results := m.results[m.detailTask]
		if m.detailPos < 0 || m.detailPos >= len(results) {
			m.viewport.SetContent(statusLabelStyle.Render("No finished iterations for this task yet."))
			return
		}
		m.viewport.SetContent(RenderIteration(results[m.detailPos], width))
		return
	}

	content := renderSegments(timeline.SegmentOutput(m.state.Output), width)
	if content == "" {
		content = "Waiting for agent output..."
	}
	m.viewport.SetContent(content)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading...\n"
	}
	if m.showHelp {
		return m.renderHelpOverlay()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderStatusBar(),
		m.renderMainContent(),
		m.renderFooter(),
	)
}
