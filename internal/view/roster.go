package view

// TaskStatus is the display status of a task in the roster.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskActive  TaskStatus = "active"
	TaskDone    TaskStatus = "done"
	TaskBlocked TaskStatus = "blocked"
)

// TaskItem is one task as seen by the dashboard.
type TaskItem struct {
	ID          string
	Title       string
	Status      TaskStatus
	Description string
	// Iteration is the number of the iteration that last started on this task.
	Iteration int
}

// Roster is the ordered set of tasks discovered during a run, keyed by id.
// Items are never removed. All methods return a new Roster and leave the
// receiver untouched, so snapshots can be shared freely.
type Roster struct {
	items []TaskItem
	index map[string]int
}

// Len returns the number of tasks.
func (r Roster) Len() int {
	return len(r.items)
}

// At returns the task at position i.
func (r Roster) At(i int) TaskItem {
	return r.items[i]
}

// Items returns a copy of the tasks in discovery order.
func (r Roster) Items() []TaskItem {
	out := make([]TaskItem, len(r.items))
	copy(out, r.items)
	return out
}

// IndexOf returns the position of the task with the given id, or -1.
func (r Roster) IndexOf(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}

// Get returns the task with the given id.
func (r Roster) Get(id string) (TaskItem, bool) {
	i := r.IndexOf(id)
	if i < 0 {
		return TaskItem{}, false
	}
	return r.items[i], true
}

// Add appends item unless a task with the same id exists.
// It reports whether the item was inserted.
func (r Roster) Add(item TaskItem) (Roster, bool) {
	if _, ok := r.index[item.ID]; ok {
		return r, false
	}

	items := make([]TaskItem, len(r.items), len(r.items)+1)
	copy(items, r.items)
	items = append(items, item)

	index := make(map[string]int, len(r.index)+1)
	for id, i := range r.index {
		index[id] = i
	}
	index[item.ID] = len(items) - 1

	return Roster{items: items, index: index}, true
}

// Update applies fn to the task with the given id. Unknown ids are a no-op.
func (r Roster) Update(id string, fn func(*TaskItem)) Roster {
	i := r.IndexOf(id)
	if i < 0 {
		return r
	}

	items := make([]TaskItem, len(r.items))
	copy(items, r.items)
	fn(&items[i])

	// index is never mutated after construction, so it can be shared
	return Roster{items: items, index: r.index}
}

// SetStatus sets the status of the task with the given id.
func (r Roster) SetStatus(id string, status TaskStatus) Roster {
	return r.Update(id, func(t *TaskItem) { t.Status = status })
}
