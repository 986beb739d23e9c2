// Package event implements the append-only event queue that drives job
// goal changes. Events are drained once per main-loop iteration and
// presented to every job class's start/stop predicates.
package event

import "fmt"

// Progress is the lifecycle phase of an Event as it moves through the queue.
type Progress int

const (
	// Pending events are queued but have not yet been presented to any
	// predicate.
	Pending Progress = iota
	// Handling events are currently being matched against job predicates.
	Handling
	// Finished events have no outstanding blockers and are about to be
	// destroyed.
	Finished
)

func (p Progress) String() string {
	switch p {
	case Pending:
		return "pending"
	case Handling:
		return "handling"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Event is a named, argument-bearing trigger that can satisfy job start/stop
// predicates. Args are positional; Env holds key=value arguments.
type Event struct {
	Name string
	Args []string
	Env  map[string]string

	progress Progress
	blockers int
	failed   bool
}

// New creates an Event in the Pending state.
func New(name string, args []string, env map[string]string) *Event {
	return &Event{Name: name, Args: args, Env: env, progress: Pending}
}

func (e *Event) String() string {
	return fmt.Sprintf("Event[name=%q args=%v progress=%s]", e.Name, e.Args, e.progress)
}

// Progress reports the event's current lifecycle phase.
func (e *Event) Progress() Progress {
	return e.progress
}

// Failed reports whether any blocker marked this event as failed.
func (e *Event) Failed() bool {
	return e.failed
}

// Block registers n additional blockers that must clear before the event can
// finish. Called by a Poll handler while the event is presented to
// predicates that need to observe its resolution (e.g. a job that starts
// because of it).
func (e *Event) Block(n int) {
	e.blockers += n
}

// Unblock clears one blocker. When the count reaches zero the event
// transitions to Finished.
func (e *Event) Unblock(failed bool) {
	if e.blockers > 0 {
		e.blockers--
	}
	if failed {
		e.failed = true
	}
	if e.blockers <= 0 {
		e.progress = Finished
	}
}

// Matches reports whether this event satisfies a predicate that names the
// given event name. Matching is name-only; argument matching against
// operators (e.g. "=", glob) is a property of the predicate, not the event,
// and is out of scope here (see spec §1 parser scope note).
func (e *Event) Matches(name string) bool {
	return e.Name == name
}

// Queue is an ordered, append-only sequence of events awaiting dispatch.
type Queue struct {
	pending []*Event
}

// NewQueue returns an empty event queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Emit appends a new event to the queue. Never blocks and cannot fail other
// than through allocation failure, which Go surfaces as a panic the process
// cannot meaningfully recover from (spec §4.5).
func (q *Queue) Emit(name string, args []string, env map[string]string) *Event {
	ev := New(name, args, env)
	q.pending = append(q.pending, ev)
	return ev
}

// Len reports the number of events still pending dispatch.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Poll drains every pending event, invoking handle once per event with the
// event marked Handling. The caller is responsible for calling Unblock on
// any blockers it registered so the event can reach Finished; events that
// acquire no blockers finish immediately after handle returns.
//
// Poll is invoked once per main-loop iteration (spec §5 suspension point 5).
func (q *Queue) Poll(handle func(*Event)) {
	batch := q.pending
	q.pending = nil

	for _, ev := range batch {
		ev.progress = Handling
		handle(ev)
		if ev.blockers <= 0 {
			ev.progress = Finished
		}
	}
}
