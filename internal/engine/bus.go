package engine

import (
	"sync"
)

// Listener receives engine events one at a time, in emission order.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// Bus fans engine events out to subscribed listeners.
// The zero value is ready to use.
type Bus struct {
	// emitMu serializes deliveries so listeners never see two events at once.
	emitMu sync.Mutex

	mu        sync.Mutex
	nextID    int
	listeners []subscription
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is safe to call more than once and from inside a listener.
func (b *Bus) Subscribe(fn Listener) (unsubscribe func()) {
	return b.subscribe(fn)
}

// SubscribeWith runs init and registers fn as one step with respect to
// EmitAfter: an event is either reflected in what init reads or delivered
// to fn, never both. init must not emit.
func (b *Bus) SubscribeWith(fn Listener, init func()) (unsubscribe func()) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	init()
	return b.subscribe(fn)
}

func (b *Bus) subscribe(fn Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners = append(b.listeners, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.listeners {
				if s.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every listener registered at the time of the call.
func (b *Bus) Emit(ev Event) {
	b.EmitAfter(nil, ev)
}

// EmitAfter applies update and then delivers ev, with no SubscribeWith in
// between. update may be nil.
func (b *Bus) EmitAfter(update func(), ev Event) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	if update != nil {
		update()
	}

	b.mu.Lock()
	listeners := make([]subscription, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, s := range listeners {
		s.fn(ev)
	}
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
