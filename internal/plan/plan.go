// Package plan reads and updates YAML task plans.
//
// A plan lists tasks in the order they should be worked on:
//
//	title: Auth service
//	tasks:
//	  - id: T-1
//	    title: Add login endpoint
//	    description: |
//	      POST /login returning a JWT.
//	  - id: T-2
//	    title: Add logout
//	    depends_on: [T-1]
//
// Status changes made during a run are written back to the file.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/loopwatch/loopwatch/internal/engine"
)

// Task statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

var (
	// ErrTaskNotFound is returned for task ids that are not in the plan.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidPlan wraps validation failures.
	ErrInvalidPlan = errors.New("invalid plan")
)

// Task is one entry of a plan.
type Task struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Status      string   `yaml:"status,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

// Plan is the document stored in a plan file.
type Plan struct {
	Title string `yaml:"title,omitempty"`
	Tasks []Task `yaml:"tasks"`
}

// Parse decodes and validates a plan. Tasks without a status are open.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	for i := range p.Tasks {
		if p.Tasks[i].Status == "" {
			p.Tasks[i].Status = StatusOpen
		}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) validate() error {
	seen := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task %d has no id", ErrInvalidPlan, i+1)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate task id %q", ErrInvalidPlan, t.ID)
		}
		seen[t.ID] = true
		if !validStatus(t.Status) {
			return fmt.Errorf("%w: task %s has unknown status %q", ErrInvalidPlan, t.ID, t.Status)
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: task %s depends on unknown task %q", ErrInvalidPlan, t.ID, dep)
			}
		}
	}
	return nil
}

func validStatus(s string) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// File is a plan bound to its path on disk. It implements engine.TaskSource.
type File struct {
	path string

	mu   sync.Mutex
	plan *Plan
}

// Load reads and validates the plan at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{path: path, plan: p}, nil
}

// Path returns the file the plan was loaded from.
func (f *File) Path() string {
	return f.path
}

// Title returns the plan title.
func (f *File) Title() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plan.Title
}

// Tasks returns a copy of all tasks in plan order.
func (f *File) Tasks() []Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Task, len(f.plan.Tasks))
	copy(out, f.plan.Tasks)
	return out
}

// Task returns the task with the given id.
func (f *File) Task(id string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(id)
	if i < 0 {
		return Task{}, fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	return f.plan.Tasks[i], nil
}

// NextTask returns the first task that is not closed and whose
// dependencies are all closed. It returns nil when no task is ready.
func (f *File) NextTask() (*engine.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	closed := make(map[string]bool, len(f.plan.Tasks))
	for _, t := range f.plan.Tasks {
		closed[t.ID] = t.Status == StatusClosed
	}

	for _, t := range f.plan.Tasks {
		if closed[t.ID] || !depsClosed(t, closed) {
			continue
		}
		return &engine.Task{ID: t.ID, Title: t.Title, Description: t.Description}, nil
	}
	return nil, nil
}

func depsClosed(t Task, closed map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !closed[dep] {
			return false
		}
	}
	return true
}

// SetStatus changes a task's status and writes the plan back to disk.
func (f *File) SetStatus(taskID, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("set status of %s: unknown status %q", taskID, status)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.indexOf(taskID)
	if i < 0 {
		return fmt.Errorf("set status of %s: %w", taskID, ErrTaskNotFound)
	}
	if f.plan.Tasks[i].Status == status {
		return nil
	}

	prev := f.plan.Tasks[i].Status
	f.plan.Tasks[i].Status = status
	if err := f.save(); err != nil {
		f.plan.Tasks[i].Status = prev
		return err
	}
	return nil
}

// IsClosed reports whether the task is closed.
func (f *File) IsClosed(taskID string) (bool, error) {
	t, err := f.Task(taskID)
	if err != nil {
		return false, err
	}
	return t.Status == StatusClosed, nil
}

func (f *File) indexOf(id string) int {
	for i, t := range f.plan.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// save writes the plan next to the original and renames it into place.
func (f *File) save() error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f.plan); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".plan-*.yaml")
	if err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write plan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
