package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `title: Auth service
tasks:
  - id: T-1
    title: Add login endpoint
    description: POST /login returning a JWT.
  - id: T-2
    title: Add logout
    depends_on: [T-1]
  - id: T-3
    title: Write docs
    status: closed
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_Defaults(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "Auth service", p.Title)
	require.Len(t, p.Tasks, 3)
	assert.Equal(t, StatusOpen, p.Tasks[0].Status)
	assert.Equal(t, []string{"T-1"}, p.Tasks[1].DependsOn)
	assert.Equal(t, StatusClosed, p.Tasks[2].Status)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "tasks:\n  - title: x\n"},
		{"duplicate id", "tasks:\n  - id: a\n  - id: a\n"},
		{"unknown status", "tasks:\n  - id: a\n    status: done\n"},
		{"unknown dependency", "tasks:\n  - id: a\n    depends_on: [b]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidPlan)
		})
	}

	_, err := Parse([]byte("tasks: [unclosed"))
	assert.Error(t, err)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFile_NextTaskRespectsDependencies(t *testing.T) {
	f, err := Load(writePlan(t, samplePlan))
	require.NoError(t, err)

	next, err := f.NextTask()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "T-1", next.ID)
	assert.Equal(t, "POST /login returning a JWT.", next.Description)

	// in progress tasks are handed out again
	require.NoError(t, f.SetStatus("T-1", StatusInProgress))
	next, err = f.NextTask()
	require.NoError(t, err)
	assert.Equal(t, "T-1", next.ID)

	require.NoError(t, f.SetStatus("T-1", StatusClosed))
	next, err = f.NextTask()
	require.NoError(t, err)
	assert.Equal(t, "T-2", next.ID)

	require.NoError(t, f.SetStatus("T-2", StatusClosed))
	next, err = f.NextTask()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFile_SetStatusPersists(t *testing.T) {
	path := writePlan(t, samplePlan)
	f, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, f.SetStatus("T-1", StatusClosed))

	reloaded, err := Load(path)
	require.NoError(t, err)
	closed, err := reloaded.IsClosed("T-1")
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, "Auth service", reloaded.Title())
	assert.Len(t, reloaded.Tasks(), 3)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestFile_UnknownTask(t *testing.T) {
	f, err := Load(writePlan(t, samplePlan))
	require.NoError(t, err)

	assert.ErrorIs(t, f.SetStatus("nope", StatusClosed), ErrTaskNotFound)
	_, err = f.IsClosed("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.Task("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	assert.Error(t, f.SetStatus("T-1", "finished"))
}

func TestFile_TasksIsACopy(t *testing.T) {
	f, err := Load(writePlan(t, samplePlan))
	require.NoError(t, err)

	tasks := f.Tasks()
	tasks[0].Status = StatusClosed

	task, err := f.Task("T-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, task.Status)
}
