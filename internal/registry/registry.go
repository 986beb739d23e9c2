// Package registry implements the Job-Class Registry and the hot-replacement
// protocol (spec §4.2): the currently-authoritative JobClass for each job
// name, selected from the highest-priority source that supplies one.
package registry

import (
	"github.com/silverback/initd/internal/job"
)

// entry pairs an installed class with the priority of the source it came
// from, so a later install from a lower-priority source never shadows a
// higher-priority one still present.
type entry struct {
	class    *job.Class
	priority int
}

// LiveChecker reports whether a job name currently has a live instance —
// the condition the replacement protocol uses to decide between an atomic
// swap and a tombstone. *job.Engine satisfies this via its IsLive method.
type LiveChecker interface {
	IsLive(name string) bool
}

// Registry holds weak references to JobClasses (spec §3 "Ownership
// summary"); Sources own the classes, the registry only looks them up by
// name.
type Registry struct {
	live    LiveChecker
	classes map[string]entry
}

// New returns an empty Registry. live is consulted by replace and Remove to
// decide between an atomic swap and a tombstone.
func New(live LiveChecker) *Registry {
	return &Registry{live: live, classes: make(map[string]entry)}
}

// Lookup returns the authoritative class for name, if any.
func (r *Registry) Lookup(name string) (*job.Class, bool) {
	e, ok := r.classes[name]
	if !ok {
		return nil, false
	}
	return e.class, true
}

// All returns every currently-authoritative class, for the main loop's
// matching of events against start/stop predicates.
func (r *Registry) All() []*job.Class {
	out := make([]*job.Class, 0, len(r.classes))
	for _, e := range r.classes {
		out = append(out, e.class)
	}
	return out
}

// Install offers a newly parsed class from a source at the given priority.
// Lower priority numbers win (spec §3 "Ordering in the global list defines
// priority; first entry wins"). If name is already authoritative from a
// higher-priority (lower-numbered) source, the new class is rejected
// outright — it never even becomes a tombstone candidate, since it was
// never authoritative.
func (r *Registry) Install(name string, class *job.Class, priority int) {
	existing, ok := r.classes[name]
	if !ok {
		r.classes[name] = entry{class: class, priority: priority}
		return
	}
	if priority > existing.priority {
		return
	}
	r.replace(name, existing.class, class, priority)
}

// replace implements the two-branch protocol of spec §4.2.
func (r *Registry) replace(name string, old, new *job.Class, priority int) {
	if r.live == nil || !r.live.IsLive(name) {
		r.classes[name] = entry{class: new, priority: priority}
		return
	}
	old.Deleted = true
	r.classes[name] = entry{class: new, priority: priority}
}

// Remove drops a class that disappeared from its source (spec §4.1 "Delete
// of .std"). If a lower-priority source still has a class under this name,
// callers should re-Install it afterward to complete the shadowing handoff
// (spec scenario "Priority shadowing").
func (r *Registry) Remove(name string, class *job.Class) {
	existing, ok := r.classes[name]
	if !ok || existing.class != class {
		return
	}
	if r.live != nil && r.live.IsLive(name) {
		class.Deleted = true
		return
	}
	delete(r.classes, name)
}
