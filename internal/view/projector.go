package view

import (
	"sync"
	"time"

	"github.com/loopwatch/loopwatch/internal/engine"
)

// DefaultTickInterval is how often ElapsedSeconds advances.
const DefaultTickInterval = time.Second

// Source is the engine surface the projector reads from.
// *engine.Engine satisfies it.
type Source interface {
	Subscribe(engine.Listener) (unsubscribe func())
	State() engine.Snapshot
	Status() engine.Status
}

// stateSubscriber is implemented by sources that can subscribe and read
// their state as one step. *engine.Engine does.
type stateSubscriber interface {
	SubscribeState(engine.Listener) (engine.Snapshot, engine.Status, func())
}

// Options configures a Projector.
type Options struct {
	// TickInterval is the elapsed-time period. Zero means one second.
	// A negative value disables the internal ticker; call Projector.Tick instead.
	TickInterval time.Duration

	// OnChange receives every new state, in the order the changes were made.
	// It is called without the projector lock held and may call Snapshot.
	OnChange func(RunViewState)
}

// Projector folds an engine's event stream into a RunViewState.
type Projector struct {
	onChange func(RunViewState)

	// notifyMu keeps OnChange calls in mutation order.
	notifyMu sync.Mutex

	mu     sync.Mutex
	state  RunViewState
	closed bool

	unsubscribe func()
	stopTicker  chan struct{}
	closeOnce   sync.Once
}

// Attach creates a projector bound to src. The engine's current iteration,
// output and status are read synchronously so a projector attached mid-run
// starts from live values. With an *engine.Engine the read and the
// subscription happen together, so no output chunk is counted twice.
func Attach(src Source, opts Options) *Projector {
	p := &Projector{onChange: opts.OnChange}

	p.mu.Lock()
	var (
		snap   engine.Snapshot
		status engine.Status
	)
	if ss, ok := src.(stateSubscriber); ok {
		snap, status, p.unsubscribe = ss.SubscribeState(p.handle)
	} else {
		// output emitted between these calls may be folded twice
		p.unsubscribe = src.Subscribe(p.handle)
		snap, status = src.State(), src.Status()
	}
	p.state = RunViewState{
		Status:           Status{State: StatusFromEngine(status, false)},
		CurrentIteration: snap.CurrentIteration,
		Output:           snap.CurrentOutput,
	}
	p.mu.Unlock()

	interval := opts.TickInterval
	if interval == 0 {
		interval = DefaultTickInterval
	}
	if interval > 0 {
		p.stopTicker = make(chan struct{})
		go p.runTicker(interval, p.stopTicker)
	}

	return p
}

// Snapshot returns the current state.
func (p *Projector) Snapshot() RunViewState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Tick advances elapsed time by one second.
func (p *Projector) Tick() {
	p.apply(Tick)
}

// Select moves the cursor to index, clamped to the roster.
func (p *Projector) Select(index int) {
	p.apply(func(s RunViewState) RunViewState { return Select(s, index) })
}

// MoveSelection moves the cursor by delta, clamped to the roster.
func (p *Projector) MoveSelection(delta int) {
	p.apply(func(s RunViewState) RunViewState { return Select(s, s.SelectedIndex+delta) })
}

// Close detaches from the engine and stops the ticker. After Close returns
// the state never changes again and no OnChange call is running. Close is
// idempotent and must not be called from OnChange.
func (p *Projector) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		if p.unsubscribe != nil {
			p.unsubscribe()
		}
		if p.stopTicker != nil {
			close(p.stopTicker)
		}

		// wait out a notification already past the closed check
		p.notifyMu.Lock()
		p.notifyMu.Unlock()
	})
}

func (p *Projector) handle(ev engine.Event) {
	p.apply(func(s RunViewState) RunViewState { return Fold(s, ev) })
}

// apply runs fn against the state as one atomic step, then notifies.
func (p *Projector) apply(fn func(RunViewState) RunViewState) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.state = fn(p.state)
	next := p.state
	p.mu.Unlock()

	if p.onChange != nil {
		p.onChange(next)
	}
}

func (p *Projector) runTicker(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			p.Tick()
		}
	}
}
