package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/loopwatch/loopwatch/internal/history"
	"github.com/loopwatch/loopwatch/internal/timeline"
)

// iterationItem implements list.Item for a stored iteration.
type iterationItem struct {
	it history.Iteration
}

func (i iterationItem) Title() string {
	r := i.it.Result
	return fmt.Sprintf("#%03d [%s] %s", r.Iteration, r.Task.ID, r.Task.Title)
}

func (i iterationItem) Description() string {
	r := i.it.Result
	desc := fmt.Sprintf("%s • %s", r.Status, timeline.FormatDuration(r.DurationMs))
	if r.Agent != nil {
		desc += fmt.Sprintf(" • $%.4f", r.Agent.Cost)
	}
	return desc
}

func (i iterationItem) FilterValue() string {
	return i.it.Result.Task.ID + " " + i.it.Result.Task.Title
}

// Picker is the iteration selection model used by the history command.
type Picker struct {
	list     list.Model
	selected *history.Iteration
	quitting bool
}

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor).
				MarginBottom(1)

	pickerStyle = lipgloss.NewStyle().
			Padding(1, 2)
)

// NewPicker creates a picker over the iterations of one run.
func NewPicker(runID string, iterations []history.Iteration) Picker {
	items := make([]list.Item, len(iterations))
	for i, it := range iterations {
		items[i] = iterationItem{it: it}
	}

	l := list.New(items, list.NewDefaultDelegate(), 60, 20)
	l.Title = fmt.Sprintf("Run %s", truncate(runID, 8))
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = pickerTitleStyle

	return Picker{list: l}
}

// Init implements tea.Model.
func (p Picker) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (p Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// keys go to the filter input while it is being edited
		if p.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			p.quitting = true
			return p, tea.Quit
		case "enter":
			if item, ok := p.list.SelectedItem().(iterationItem); ok {
				it := item.it
				p.selected = &it
				return p, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		p.list.SetSize(msg.Width-4, msg.Height-4)
	}

	var cmd tea.Cmd
	p.list, cmd = p.list.Update(msg)
	return p, cmd
}

// View implements tea.Model.
func (p Picker) View() string {
	if p.selected != nil || p.quitting {
		return ""
	}
	return pickerStyle.Render(p.list.View())
}

// Selected returns the chosen iteration, or nil if none was chosen.
func (p Picker) Selected() *history.Iteration {
	return p.selected
}
