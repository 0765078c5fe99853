package view

import (
	"github.com/loopwatch/loopwatch/internal/agent"
	"github.com/loopwatch/loopwatch/internal/engine"
)

// RunViewState is everything the live dashboard renders.
// Values are immutable; every change produces a new RunViewState.
type RunViewState struct {
	Tasks            Roster
	SelectedIndex    int
	Status           Status
	CurrentIteration int
	Output           string
	ElapsedSeconds   int
}

// Selected returns the task under the cursor.
func (s RunViewState) Selected() (TaskItem, bool) {
	if s.SelectedIndex < 0 || s.SelectedIndex >= s.Tasks.Len() {
		return TaskItem{}, false
	}
	return s.Tasks.At(s.SelectedIndex), true
}

// Fold applies one engine event to s and returns the new state.
// Unknown event types leave the state unchanged.
func Fold(s RunViewState, ev engine.Event) RunViewState {
	switch ev := ev.(type) {
	case engine.EngineStarted:
		s.Status = s.Status.WithState(StateRunning)

	case engine.EngineStopped:
		s.Status = s.Status.WithState(StateStopped)
		if ev.Reason == engine.StopError {
			reason := ev.Detail
			if reason == "" {
				reason = string(ev.Reason)
			}
			s.Status = s.Status.Latch(reason)
		}

	case engine.EnginePaused:
		s.Status = s.Status.WithState(StatePaused)

	case engine.EngineResumed:
		s.Status = s.Status.WithState(StateRunning)

	case engine.IterationStarted:
		s.CurrentIteration = ev.Iteration
		s.Output = ""
		if i := s.Tasks.IndexOf(ev.Task.ID); i >= 0 {
			s.Tasks = s.Tasks.Update(ev.Task.ID, func(t *TaskItem) {
				t.Status = TaskActive
				t.Iteration = ev.Iteration
			})
			s.SelectedIndex = i
		}

	case engine.IterationCompleted:
		if ev.Result.TaskCompleted {
			s.Tasks = s.Tasks.SetStatus(ev.Result.Task.ID, TaskDone)
		}

	case engine.IterationFailed:
		s.Tasks = s.Tasks.SetStatus(ev.Task.ID, TaskBlocked)

	case engine.TaskSelected:
		s.Tasks, _ = s.Tasks.Add(TaskItem{
			ID:          ev.Task.ID,
			Title:       ev.Task.Title,
			Status:      TaskPending,
			Description: ev.Task.Description,
			Iteration:   ev.Iteration,
		})

	case engine.TaskCompleted:
		s.Tasks = s.Tasks.SetStatus(ev.Task.ID, TaskDone)

	case engine.AgentOutput:
		if ev.Stream == agent.StreamStdout {
			s.Output += ev.Data
		}
	}

	s.SelectedIndex = clampIndex(s.SelectedIndex, s.Tasks.Len())
	return s
}

// Tick advances the elapsed time by one second.
func Tick(s RunViewState) RunViewState {
	s.ElapsedSeconds++
	return s
}

// Select moves the cursor to index, clamped to the roster.
func Select(s RunViewState, index int) RunViewState {
	s.SelectedIndex = clampIndex(index, s.Tasks.Len())
	return s
}

func clampIndex(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
