package view

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwatch/loopwatch/internal/agent"
	"github.com/loopwatch/loopwatch/internal/engine"
)

// fakeSource is a hand-driven engine.
type fakeSource struct {
	bus    engine.Bus
	snap   engine.Snapshot
	status engine.Status
}

func (f *fakeSource) Subscribe(l engine.Listener) func() { return f.bus.Subscribe(l) }
func (f *fakeSource) State() engine.Snapshot             { return f.snap }
func (f *fakeSource) Status() engine.Status              { return f.status }

func manual(onChange func(RunViewState)) Options {
	return Options{TickInterval: -1, OnChange: onChange}
}

func TestAttach_WarmStart(t *testing.T) {
	src := &fakeSource{
		snap:   engine.Snapshot{CurrentIteration: 4, CurrentOutput: "partial output\n"},
		status: engine.StatusPaused,
	}

	p := Attach(src, manual(nil))
	defer p.Close()

	s := p.Snapshot()
	assert.Equal(t, 4, s.CurrentIteration)
	assert.Equal(t, "partial output\n", s.Output)
	assert.Equal(t, StatePaused, s.Status.Effective())
	assert.Equal(t, 0, s.Tasks.Len())
	assert.Equal(t, 1, src.bus.Len())
}

func TestAttach_ColdEngine(t *testing.T) {
	p := Attach(&fakeSource{status: engine.StatusIdle}, manual(nil))
	defer p.Close()

	s := p.Snapshot()
	assert.Equal(t, 0, s.CurrentIteration)
	assert.Empty(t, s.Output)
	assert.Equal(t, StateStopped, s.Status.Effective())
}

func TestProjector_FoldsEvents(t *testing.T) {
	src := &fakeSource{status: engine.StatusIdle}

	var mu sync.Mutex
	var seen []RunViewState
	p := Attach(src, manual(func(s RunViewState) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))
	defer p.Close()

	src.bus.Emit(engine.EngineStarted{})
	src.bus.Emit(engine.TaskSelected{Task: engine.Task{ID: "A", Title: "First"}, Iteration: 1})
	src.bus.Emit(engine.IterationStarted{Iteration: 1, Task: engine.Task{ID: "A"}})
	src.bus.Emit(engine.AgentOutput{Stream: agent.StreamStdout, Data: "hi\n"})

	s := p.Snapshot()
	assert.Equal(t, StateRunning, s.Status.Effective())
	assert.Equal(t, 1, s.CurrentIteration)
	assert.Equal(t, "hi\n", s.Output)
	a, ok := s.Tasks.Get("A")
	require.True(t, ok)
	assert.Equal(t, TaskActive, a.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	assert.Equal(t, StateRunning, seen[0].Status.Effective())
	assert.Equal(t, 1, seen[1].Tasks.Len())
	assert.Equal(t, "hi\n", seen[3].Output)
}

func TestProjector_ManualTick(t *testing.T) {
	p := Attach(&fakeSource{}, manual(nil))
	defer p.Close()

	p.Tick()
	p.Tick()
	assert.Equal(t, 2, p.Snapshot().ElapsedSeconds)
}

func TestProjector_Ticker(t *testing.T) {
	ticked := make(chan int, 16)
	p := Attach(&fakeSource{}, Options{
		TickInterval: 5 * time.Millisecond,
		OnChange: func(s RunViewState) {
			select {
			case ticked <- s.ElapsedSeconds:
			default:
			}
		},
	})
	defer p.Close()

	for want := 1; want <= 2; want++ {
		select {
		case got := <-ticked:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never arrived", want)
		}
	}
}

func TestProjector_Selection(t *testing.T) {
	src := &fakeSource{}
	p := Attach(src, manual(nil))
	defer p.Close()

	for _, id := range []string{"a", "b", "c"} {
		src.bus.Emit(engine.TaskSelected{Task: engine.Task{ID: id}})
	}

	p.MoveSelection(1)
	assert.Equal(t, 1, p.Snapshot().SelectedIndex)
	p.MoveSelection(5)
	assert.Equal(t, 2, p.Snapshot().SelectedIndex)
	p.MoveSelection(-10)
	assert.Equal(t, 0, p.Snapshot().SelectedIndex)
	p.Select(2)
	assert.Equal(t, 2, p.Snapshot().SelectedIndex)

	// iteration start moves the cursor to the running task
	src.bus.Emit(engine.IterationStarted{Iteration: 1, Task: engine.Task{ID: "a"}})
	assert.Equal(t, 0, p.Snapshot().SelectedIndex)
}

func TestProjector_CloseStopsMutation(t *testing.T) {
	src := &fakeSource{}
	p := Attach(src, Options{TickInterval: time.Millisecond})

	src.bus.Emit(engine.EngineStarted{})
	p.Close()
	p.Close()

	before := p.Snapshot()
	time.Sleep(20 * time.Millisecond)

	src.bus.Emit(engine.TaskSelected{Task: engine.Task{ID: "late"}})
	p.Tick()
	p.MoveSelection(1)

	assert.Equal(t, before, p.Snapshot())
	assert.Equal(t, 0, src.bus.Len())
}

func TestProjector_CloseWaitsForOnChange(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p := Attach(&fakeSource{}, manual(func(RunViewState) {
		once.Do(func() { close(entered) })
		<-release
	}))

	go p.Tick()
	<-entered

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while OnChange was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after OnChange finished")
	}
}

func TestProjector_WithEngine(t *testing.T) {
	e := engine.NewEngine(&scriptedAgent{output: "working\n<promise>COMPLETE</promise>\n"}, &oneTask{})
	p := Attach(e, manual(nil))
	defer p.Close()

	_, err := e.Run(t.Context(), engine.RunConfig{})
	require.NoError(t, err)

	s := p.Snapshot()
	assert.Equal(t, StateStopped, s.Status.Effective())
	assert.Equal(t, 1, s.CurrentIteration)
	assert.Equal(t, "working\n<promise>COMPLETE</promise>\n", s.Output)
	require.Equal(t, 1, s.Tasks.Len())
	assert.Equal(t, TaskDone, s.Tasks.At(0).Status)
}

func TestAttach_MidRunCountsOutputOnce(t *testing.T) {
	a := &streamingAgent{chunks: 500, started: make(chan struct{})}
	e := engine.NewEngine(a, &oneTask{})

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(t.Context(), engine.RunConfig{MaxIterations: 1})
		done <- err
	}()

	<-a.started
	p := Attach(e, manual(nil))
	defer p.Close()

	require.NoError(t, <-done)
	assert.Equal(t, strings.Repeat("x\n", 500), p.Snapshot().Output)
}

// streamingAgent writes its output in many small chunks.
type streamingAgent struct {
	chunks  int
	started chan struct{}
}

func (a *streamingAgent) Name() string    { return "streaming" }
func (a *streamingAgent) Available() bool { return true }

func (a *streamingAgent) Run(_ context.Context, _ string, opts agent.RunOpts) (*agent.Result, error) {
	for i := 0; i < a.chunks; i++ {
		opts.OnOutput(agent.StreamStdout, "x\n")
		if i == 0 {
			close(a.started)
		}
		runtime.Gosched()
	}
	return &agent.Result{Stdout: strings.Repeat("x\n", a.chunks)}, nil
}

type scriptedAgent struct {
	output string
}

func (a *scriptedAgent) Name() string    { return "scripted" }
func (a *scriptedAgent) Available() bool { return true }

func (a *scriptedAgent) Run(_ context.Context, _ string, opts agent.RunOpts) (*agent.Result, error) {
	if opts.OnOutput != nil {
		opts.OnOutput(agent.StreamStdout, a.output)
		opts.OnOutput(agent.StreamStderr, "Cost: $0.01\n")
	}
	return &agent.Result{Stdout: a.output}, nil
}

// oneTask hands out a single task until it is closed.
type oneTask struct {
	closed bool
}

func (o *oneTask) NextTask() (*engine.Task, error) {
	if o.closed {
		return nil, nil
	}
	return &engine.Task{ID: "T-1", Title: "Only task"}, nil
}

func (o *oneTask) SetStatus(_ string, status string) error {
	o.closed = status == "closed"
	return nil
}

func (o *oneTask) IsClosed(string) (bool, error) { return o.closed, nil }
