package tui

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/loopwatch/loopwatch/internal/engine"
	"github.com/loopwatch/loopwatch/internal/timeline"
)

const (
	codeFormatter = "terminal256"
	codeStyle     = "monokai"
)

var (
	proseStyle = lipgloss.NewStyle()

	codeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	codeLabelStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Italic(true)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginTop(1)

	errorTextStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// renderSegments renders agent output with prose wrapped to width and code
// blocks boxed and syntax highlighted.
func renderSegments(segments []timeline.Segment, width int) string {
	if len(segments) == 0 {
		return ""
	}
	width = max(width, 10)

	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.Kind == timeline.SegmentCode {
			parts = append(parts, renderCode(seg, width))
			continue
		}
		parts = append(parts, proseStyle.Width(width).Render(seg.Content))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderCode highlights one code segment. Unknown languages fall back to
// chroma's plain lexer; a highlighting failure shows the raw code.
func renderCode(seg timeline.Segment, width int) string {
	body := seg.Content
	var buf strings.Builder
	if err := quick.Highlight(&buf, seg.Content, seg.Language, codeFormatter, codeStyle); err == nil {
		body = strings.TrimRight(buf.String(), "\n")
	}

	box := codeBoxStyle.Width(max(width-2, 1)).Render(body)
	return lipgloss.JoinVertical(lipgloss.Left, codeLabelStyle.Render(seg.Language), box)
}

// renderMarkdown renders a task description. The raw text is returned when
// glamour cannot render it.
func renderMarkdown(text string, width int) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(width, 20)),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

// RenderIteration renders a finished iteration: header, task description,
// timeline and output.
func RenderIteration(result engine.IterationResult, width int) string {
	title := fmt.Sprintf("Iteration %d · [%s] %s", result.Iteration, result.Task.ID, result.Task.Title)

	meta := []string{
		string(result.Status),
		timeline.FormatDuration(result.DurationMs),
	}
	if result.Agent != nil {
		meta = append(meta,
			fmt.Sprintf("%d tokens", result.Agent.TokensIn+result.Agent.TokensOut),
			fmt.Sprintf("$%.4f", result.Agent.Cost),
		)
	}

	sections := []string{
		titleStyle.Render(title),
		statusLabelStyle.Render(strings.Join(meta, " · ")),
	}
	if result.Error != "" {
		sections = append(sections, errorTextStyle.Render("Error: "+result.Error))
	}
	if desc := renderMarkdown(result.Task.Description, width); desc != "" {
		sections = append(sections, sectionStyle.Render("Task"), desc)
	}

	sections = append(sections, sectionStyle.Render("Timeline"))
	for _, ev := range timeline.BuildTimeline(result) {
		sections = append(sections, fmt.Sprintf("%s  %s",
			statusLabelStyle.Render(timeline.FormatTimestamp(ev.Timestamp)),
			ev.Description,
		))
	}

	sections = append(sections, sectionStyle.Render("Output"))
	if out := renderSegments(timeline.SegmentOutput(result.Stdout()), width); out != "" {
		sections = append(sections, out)
	} else {
		sections = append(sections, statusLabelStyle.Render("(no output)"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
