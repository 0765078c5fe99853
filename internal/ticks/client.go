package ticks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loopwatch/loopwatch/internal/engine"
)

// Client wraps the tk CLI for programmatic access to the Ticks issue tracker.
type Client struct {
	// Command is the path to the tk binary. Defaults to "tk".
	Command string
}

// NewClient creates a new Ticks client with default settings.
func NewClient() *Client {
	return &Client{Command: "tk"}
}

// NextTask returns the next open, unblocked task for the given epic.
// Returns nil if no tasks are available.
// Uses --all to see tasks from all owners (important for blockers check).
func (c *Client) NextTask(epicID string) (*Task, error) {
	out, err := c.run("next", epicID, "--all", "--json")
	if err != nil {
		if strings.Contains(err.Error(), "no open") || strings.Contains(err.Error(), "No tasks") {
			return nil, nil
		}
		return nil, fmt.Errorf("tk next %s: %w", epicID, err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal(out, &task); err != nil {
		return nil, fmt.Errorf("parse task JSON: %w", err)
	}
	if task.ID == "" {
		return nil, nil
	}
	return &task, nil
}

// GetTask returns details for a specific task.
func (c *Client) GetTask(taskID string) (*Task, error) {
	out, err := c.run("show", taskID, "--json")
	if err != nil {
		return nil, fmt.Errorf("tk show %s: %w", taskID, err)
	}

	var task Task
	if err := json.Unmarshal(out, &task); err != nil {
		return nil, fmt.Errorf("parse task JSON: %w", err)
	}
	return &task, nil
}

// GetEpic returns details for a specific epic.
func (c *Client) GetEpic(epicID string) (*Epic, error) {
	out, err := c.run("show", epicID, "--json")
	if err != nil {
		return nil, fmt.Errorf("tk show %s: %w", epicID, err)
	}

	var epic Epic
	if err := json.Unmarshal(out, &epic); err != nil {
		return nil, fmt.Errorf("parse epic JSON: %w", err)
	}
	return &epic, nil
}

// ListTasks returns all tasks under the given parent epic.
func (c *Client) ListTasks(epicID string) ([]Task, error) {
	out, err := c.run("list", "--parent", epicID, "--all", "--json")
	if err != nil {
		return nil, fmt.Errorf("tk list --parent %s: %w", epicID, err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}

	var wrapper listOutput
	if err := json.Unmarshal(out, &wrapper); err != nil {
		return nil, fmt.Errorf("parse tasks JSON: %w", err)
	}
	return wrapper.Ticks, nil
}

// SetStatus updates the status of an issue (open, in_progress, closed).
func (c *Client) SetStatus(issueID, status string) error {
	_, err := c.run("update", issueID, "--status", status)
	if err != nil {
		return fmt.Errorf("tk update %s --status %s: %w", issueID, status, err)
	}
	return nil
}

// run executes a tk command and returns the output.
func (c *Client) run(args ...string) ([]byte, error) {
	cmd := exec.Command(c.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return nil, fmt.Errorf("%s", errMsg)
	}
	return stdout.Bytes(), nil
}

// Source adapts one epic of the tracker to engine.TaskSource.
type Source struct {
	client *Client
	epicID string
}

// NewSource returns a task source for the tasks under epicID.
func NewSource(client *Client, epicID string) *Source {
	return &Source{client: client, epicID: epicID}
}

// EpicID returns the epic this source draws tasks from.
func (s *Source) EpicID() string {
	return s.epicID
}

// NextTask returns the next ready task of the epic, or nil.
func (s *Source) NextTask() (*engine.Task, error) {
	t, err := s.client.NextTask(s.epicID)
	if err != nil || t == nil {
		return nil, err
	}
	return &engine.Task{ID: t.ID, Title: t.Title, Description: t.Description}, nil
}

// SetStatus updates the task's status in the tracker.
func (s *Source) SetStatus(taskID, status string) error {
	return s.client.SetStatus(taskID, status)
}

// IsClosed reports whether the tracker has the task closed.
func (s *Source) IsClosed(taskID string) (bool, error) {
	t, err := s.client.GetTask(taskID)
	if err != nil {
		return false, err
	}
	return t.IsClosed(), nil
}
