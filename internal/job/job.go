package job

import (
	"time"

	"github.com/silverback/initd/internal/timer"
)

// Instance is the runtime state of one invocation of a Class (spec §3 Job).
// Instances reference their Class by non-owning pointer; when the Class is
// replaced or deleted, the Instance simply stops being created anew once it
// reaches its resting state (see Engine.reclaim).
type Instance struct {
	Name  string
	Class *Class

	Goal      Goal
	State     State
	ProcState ProcState
	Pid       int

	activeSlot  Slot
	killTimer   *timer.Handle
	daemonTimer *timer.Handle

	respawnCount       int
	respawnWindowStart time.Time
}

// Live reports whether the instance has a live process or a pending timer —
// the condition spec §4.2 uses to decide whether a class replacement can
// happen atomically or must wait for a tombstone to clear.
func (j *Instance) Live() bool {
	return j.Pid != 0 || j.killTimer != nil || j.daemonTimer != nil
}

// Resting reports whether the (goal, state) pair needs no further
// reconciliation (spec glossary: "Resting state").
func (j *Instance) Resting() bool {
	return (j.Goal == Stop && j.State == Waiting) || (j.Goal == Start && j.State == Running)
}
