package job

import (
	"syscall"
	"time"

	"github.com/silverback/initd/internal/logging"
	"github.com/silverback/initd/internal/process"
	"github.com/silverback/initd/internal/timer"
)

// nextState implements the state-transition table of spec §4.3. hasNext is
// false only for Waiting, which never advances on its own — entry into
// Starting from Waiting is triggered directly by a goal change, not by this
// function.
func nextState(state State, goal Goal) (next State, hasNext bool) {
	switch state {
	case Starting:
		if goal == Start {
			return Running, true
		}
		return Stopping, true
	case Running:
		if goal == Start {
			return Respawning, true
		}
		return Stopping, true
	case Stopping:
		if goal == Start {
			return Starting, true
		}
		return Waiting, true
	case Respawning:
		if goal == Start {
			return Running, true
		}
		return Stopping, true
	}
	return Waiting, false
}

// Status is a point-in-time snapshot of an instance, used by the control
// surface and for logging.
type Status struct {
	Name      string
	Goal      Goal
	State     State
	ProcState ProcState
	Pid       int
}

// Spawner is the subset of process.Spawner the engine needs. It is an
// interface so tests can substitute a fake that never actually forks.
type Spawner interface {
	Spawn(process.Descriptor) (int, error)
}

// Engine drives every job instance's lifecycle from goal changes, timer
// firings, and child-death notifications (spec §4.3). It owns the pid index
// the Child Reaper consults and is the only place a Job's (goal, state)
// pair is mutated — all from the single main-loop goroutine (spec §5).
type Engine struct {
	jobs map[string]*Instance
	pids map[int]*Instance

	spawner Spawner
	timers  *timer.Service
	clock   timer.Clock

	emit func(name string, args []string)

	onState func(name string, state State)
}

// SetStateHook installs a callback invoked every time an instance enters a
// new state, after inst.State has been updated. Used by the Supervisor to
// feed the performance log; nil by default, meaning no hook.
func (e *Engine) SetStateHook(f func(name string, state State)) {
	e.onState = f
}

// New returns an Engine with no instances. emit is called to publish the
// "<job>/started", "<job>/stopped" and respawn-failure events back onto the
// event queue.
func New(spawner Spawner, timers *timer.Service, clock timer.Clock, emit func(name string, args []string)) *Engine {
	if clock == nil {
		clock = timer.Real
	}
	return &Engine{
		jobs:    make(map[string]*Instance),
		pids:    make(map[int]*Instance),
		spawner: spawner,
		timers:  timers,
		clock:   clock,
		emit:    emit,
	}
}

// Ensure returns the instance for name, creating a fresh one bound to class
// if none exists yet. Matches spec §4.3's "singleton or newly created
// instance" language for event-driven goal changes.
func (e *Engine) Ensure(name string, class *Class) *Instance {
	if inst, ok := e.jobs[name]; ok {
		return inst
	}
	inst := &Instance{Name: name, Class: class, Goal: Stop, State: Waiting, ProcState: None}
	e.jobs[name] = inst
	return inst
}

// Lookup returns the existing instance for name, if any, without creating
// one.
func (e *Engine) Lookup(name string) (*Instance, bool) {
	inst, ok := e.jobs[name]
	return inst, ok
}

// IsLive reports whether name has an instance with a live process or a
// pending timer — the condition the replacement protocol (spec §4.2) uses
// to decide between an atomic swap and a tombstone.
func (e *Engine) IsLive(name string) bool {
	inst, ok := e.jobs[name]
	return ok && inst.Live()
}

// List snapshots every known instance, for the control surface's "list"
// operation (spec §6).
func (e *Engine) List() []Status {
	out := make([]Status, 0, len(e.jobs))
	for _, inst := range e.jobs {
		out = append(out, Status{
			Name:      inst.Name,
			Goal:      inst.Goal,
			State:     inst.State,
			ProcState: inst.ProcState,
			Pid:       inst.Pid,
		})
	}
	return out
}

// SetGoal changes an instance's goal and, if the new goal requires it,
// drives the two explicit trigger points spec §4.3 names: waiting→starting
// on a stop→start flip, and the kill protocol on a start→stop flip while
// running. Any other goal change is simply recorded; it is acted on the
// next time the instance's current process completes (spec's
// "event-driven goal changes" paragraph).
func (e *Engine) SetGoal(inst *Instance, goal Goal) {
	if inst.Goal == goal {
		return
	}
	inst.Goal = goal

	switch {
	case inst.State == Waiting && goal == Start:
		e.enter(inst, Starting)
	case inst.State == Running && goal == Stop:
		e.beginKill(inst)
	}
}

// enter drives entry into state and every state reached after it by
// skipping through nextState while the class has no process descriptor to
// run there, stopping as soon as one spawns or Waiting is reached. seen
// guards against a class that
// declares no descriptor anywhere reachable from state: without it, a
// task-only class with only a pre-start stanza (no Main, no Respawn)
// would have nextState bounce Running and Respawning back and forth with
// neither ever finding a descriptor, recursing forever.
func (e *Engine) enter(inst *Instance, state State) {
	seen := map[State]bool{state: true}
	for {
		inst.State = state
		if e.onState != nil {
			e.onState(inst.Name, state)
		}

		if state == Waiting {
			e.onEnterWaiting(inst)
			return
		}

		slots := slotsFor(state)
		var desc process.Descriptor
		var hasDesc bool
		if len(slots) > 0 {
			desc, hasDesc = inst.Class.Processes[slots[0]]
		}

		if hasDesc {
			pid, err := e.spawner.Spawn(desc)
			if err == nil {
				inst.activeSlot = slots[0]
				inst.Pid = pid
				e.pids[pid] = inst

				if state == Running && inst.Class.Daemon {
					inst.ProcState = Spawned
					if inst.Class.PidTimeout > 0 {
						inst.daemonTimer = e.timers.After(inst.Class.PidTimeout, func() { e.onDaemonTimeout(inst) })
					} else {
						inst.ProcState = Active
					}
				} else {
					inst.ProcState = Active
				}

				if state == Running {
					e.emitf(inst, "started")
				}
				return
			}
			// Spawn already exhausted its own transient-failure retries; make
			// forward progress rather than wedge the job forever (spec §7).
		}

		next, ok := nextState(state, inst.Goal)
		if !ok {
			return
		}
		if seen[next] {
			logging.WarnLog("job %s: no process descriptor reachable from state %v, forcing stop", inst.Name, state)
			inst.Goal = Stop
			state = Waiting
			seen = map[State]bool{}
			continue
		}
		seen[next] = true
		state = next
	}
}

// advance steps the instance forward via nextState when the current state
// has no process descriptor to run (spec §4.3: "if the descriptor is
// absent the state is skipped via next_state").
func (e *Engine) advance(inst *Instance) {
	next, ok := nextState(inst.State, inst.Goal)
	if ok {
		e.enter(inst, next)
	}
}

func (e *Engine) onEnterWaiting(inst *Instance) {
	inst.respawnCount = 0
	inst.respawnWindowStart = time.Time{}
	e.emitf(inst, "stopped")
	e.reclaim(inst)
}

// reclaim destroys a tombstoned class's instance once it has reached
// (stop, waiting, none) — the completion of the replacement protocol
// (spec §4.2 point 2).
func (e *Engine) reclaim(inst *Instance) {
	if inst.Class.Deleted && inst.State == Waiting && inst.ProcState == None && inst.Pid == 0 {
		delete(e.jobs, inst.Name)
	}
}

// beginKill implements the kill protocol (spec §4.3): SIGTERM, mark Killed,
// arm the kill timer.
func (e *Engine) beginKill(inst *Instance) {
	if inst.Pid == 0 {
		e.enter(inst, Stopping)
		return
	}
	if inst.daemonTimer != nil {
		inst.daemonTimer.Cancel()
		inst.daemonTimer = nil
	}
	_ = process.Signal(inst.Pid, syscall.SIGTERM)
	inst.ProcState = Killed
	inst.killTimer = e.timers.After(inst.Class.KillTimeout, func() { e.onKillTimeout(inst) })
}

// onKillTimeout fires when kill_timeout elapses before the process died.
// SIGKILL is sent and the pid is optimistically cleared regardless of
// whether the signal actually reached anything: a wedged kernel task is
// treated as dead so the engine keeps making forward progress (spec §4.3).
func (e *Engine) onKillTimeout(inst *Instance) {
	if inst.ProcState != Killed {
		return
	}
	_ = process.Signal(inst.Pid, syscall.SIGKILL)
	delete(e.pids, inst.Pid)
	inst.Pid = 0
	inst.ProcState = None
	inst.killTimer = nil
	e.enter(inst, Stopping)
}

func (e *Engine) onDaemonTimeout(inst *Instance) {
	if inst.ProcState == Spawned {
		inst.ProcState = Active
	}
	inst.daemonTimer = nil
}

// HandleExit is called once per reaped child (spec §4.3 "Death reaping").
// Unknown pids — children of helper forks, or a pid whose job already
// cleared its bookkeeping during the kill protocol — are silently ignored.
func (e *Engine) HandleExit(pid int, status int) {
	inst, ok := e.pids[pid]
	if !ok {
		return
	}
	delete(e.pids, pid)

	wasKilled := inst.ProcState == Killed
	inst.Pid = 0
	inst.ProcState = None
	if inst.killTimer != nil {
		inst.killTimer.Cancel()
		inst.killTimer = nil
	}
	if inst.daemonTimer != nil {
		inst.daemonTimer.Cancel()
		inst.daemonTimer = nil
	}

	switch inst.State {
	case Running:
		if wasKilled || inst.Goal == Stop {
			e.enter(inst, Stopping)
			return
		}
		e.onMainExit(inst, status)
	default:
		e.advance(inst)
	}
}

// onMainExit applies the respawn policy (spec §4.3) to a main process that
// exited on its own while the job's goal was still Start.
func (e *Engine) onMainExit(inst *Instance, status int) {
	if inst.Class.IsNormalExit(status) {
		inst.Goal = Stop
		e.enter(inst, Stopping)
		return
	}

	if !inst.Class.Respawn {
		inst.Goal = Stop
		e.enter(inst, Stopping)
		return
	}

	now := e.clock.Now()
	if inst.respawnWindowStart.IsZero() || now.Sub(inst.respawnWindowStart) > inst.Class.RespawnInterval {
		inst.respawnWindowStart = now
		inst.respawnCount = 0
	}
	inst.respawnCount++

	if inst.respawnCount > inst.Class.RespawnLimit {
		inst.Goal = Stop
		e.emitf(inst, "failed")
		e.enter(inst, Stopping)
		return
	}

	e.enter(inst, Respawning)
}

func (e *Engine) emitf(inst *Instance, suffix string) {
	if e.emit == nil {
		return
	}
	e.emit(inst.Name+"/"+suffix, nil)
}
