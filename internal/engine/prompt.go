package engine

import (
	"fmt"
	"strings"
	"text/template"
)

// IterationContext contains all context needed to build an iteration prompt.
type IterationContext struct {
	// Iteration is the current iteration number (1-indexed).
	Iteration int

	// Task is the current task to complete.
	Task *Task

	// Notes are observations carried over from earlier iterations
	// (timeouts, errors, status update failures).
	Notes []string
}

// PromptBuilder constructs prompts for autonomous agent iterations.
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder creates a new PromptBuilder with the default template.
func NewPromptBuilder() *PromptBuilder {
	tmpl := template.Must(template.New("prompt").Parse(promptTemplate))
	return &PromptBuilder{tmpl: tmpl}
}

// Build generates a prompt string from the given iteration context.
func (pb *PromptBuilder) Build(ctx IterationContext) string {
	var buf strings.Builder

	data := templateData{
		Iteration: ctx.Iteration,
		Notes:     ctx.Notes,
	}
	if ctx.Task != nil {
		data.TaskID = ctx.Task.ID
		data.TaskTitle = ctx.Task.Title
		data.TaskDescription = ctx.Task.Description
		data.AcceptanceCriteria = extractAcceptanceCriteria(ctx.Task.Description)
	}

	if err := pb.tmpl.Execute(&buf, data); err != nil {
		return fmt.Sprintf("Error generating prompt: %v", err)
	}

	return buf.String()
}

type templateData struct {
	Iteration          int
	TaskID             string
	TaskTitle          string
	TaskDescription    string
	AcceptanceCriteria string
	Notes              []string
}

// extractAcceptanceCriteria returns the acceptance criteria section of a
// task description, or "" when there is none.
func extractAcceptanceCriteria(description string) string {
	markers := []string{
		"### acceptance criteria",
		"## acceptance criteria",
		"acceptance criteria:",
	}

	lower := strings.ToLower(description)
	for _, marker := range markers {
		if idx := strings.Index(lower, marker); idx >= 0 {
			return strings.TrimSpace(description[idx:])
		}
	}

	return ""
}

const promptTemplate = `# Iteration {{.Iteration}}
{{if .Notes}}
## Notes From Previous Iterations

{{range .Notes}}- {{.}}
{{end}}
{{end}}
## Current Task
{{if .TaskID}}**[{{.TaskID}}] {{.TaskTitle}}**{{else}}**{{.TaskTitle}}**{{end}}

{{.TaskDescription}}
{{if .AcceptanceCriteria}}

### Acceptance Criteria
{{.AcceptanceCriteria}}
{{end}}

## Instructions

1. **Complete the current task** - Implement only what this task asks for.
2. **Run tests** - Ensure existing tests pass and add new tests where appropriate.
3. **Commit your changes** - Create a commit with the task ID in the message.
4. **Report completion** - When the task is done, print ` + "`<promise>COMPLETE</promise>`" + ` on its own line.

## Rules

1. **One task per iteration** - Do not work on other tasks.
2. **No questions** - You are autonomous. Make reasonable decisions based on the context provided.
3. **Exit signals** - Use these only when necessary:
   - ` + "`<promise>EJECT: reason</promise>`" + ` - Exit for a large install or an external dependency you cannot install
   - ` + "`<promise>BLOCKED: reason</promise>`" + ` - Cannot proceed (missing credentials, unclear requirements, etc.)

Begin working on the task now.
`
