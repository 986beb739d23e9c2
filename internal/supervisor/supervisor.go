// Package supervisor implements the Main Loop (spec §5): the single
// goroutine that owns every mutation of Registry/Engine/event-queue state,
// woken by signals, file-watcher notifications, and a polling ticker that
// reaps children. Each wake-up services one ready source; when several are
// ready at once, select picks among them at random, so their relative order
// is not fixed. The classic self-pipe signal multiplexing pattern is
// translated into Go's idiomatic channel-and-select form via
// os/signal.Notify rather than a hand-rolled pipe.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silverback/initd/internal/conf"
	"github.com/silverback/initd/internal/control"
	"github.com/silverback/initd/internal/event"
	"github.com/silverback/initd/internal/job"
	"github.com/silverback/initd/internal/perflog"
	"github.com/silverback/initd/internal/reaper"
	"github.com/silverback/initd/internal/registry"
)

// Engine is the subset of *job.Engine the main loop and the control surface
// it builds both need.
type Engine interface {
	Ensure(name string, class *job.Class) *job.Instance
	Lookup(name string) (*job.Instance, bool)
	List() []job.Status
	SetGoal(inst *job.Instance, goal job.Goal)
	HandleExit(pid int, status int)
}

// reapFunc abstracts reaper.Reap for tests.
type reapFunc func() []reaper.Exit

// Supervisor wires the Registry, Engine, Config Manager, Event Queue and
// Control Surface behind one explicit context that the main loop threads
// through every callback, replacing upstart's own global mutable state
// (spec §9 design note "Replace with an explicit Supervisor context").
type Supervisor struct {
	Registry *registry.Registry
	Engine   Engine
	Manager  *conf.Manager
	Events   *event.Queue
	Control  control.Surface
	Perf     *perflog.Log

	logf func(format string, args ...any)

	reap       reapFunc
	fileEvents chan conf.FileEvent
	signals    chan os.Signal
	pollEvery  time.Duration
	sigset     []os.Signal
}

// Option customizes a Supervisor before Run starts.
type Option func(*Supervisor)

// WithLogger installs a formatter for diagnostic and configuration-error
// output (spec §7 "path:line: message"); defaults to a no-op.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(s *Supervisor) { s.logf = logf }
}

// WithPerfLog attaches a performance log; every job state change is recorded
// to it via the engine's state-change hook (spec §6).
func WithPerfLog(p *perflog.Log) Option {
	return func(s *Supervisor) { s.Perf = p }
}

// WithPollInterval overrides the fallback ticker period used to notice
// reaped children and expired timers between signal deliveries. Defaults to
// 200ms; tests shrink this to keep Run's select loop from blocking for long
// in the absence of real SIGCHLD traffic.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.pollEvery = d }
}

// New assembles a Supervisor from its already-built collaborators. engine
// must be the concrete *job.Engine if WithPerfLog is used, since only it
// exposes SetStateHook.
func New(reg *registry.Registry, eng Engine, mgr *conf.Manager, events *event.Queue, opts ...Option) *Supervisor {
	s := &Supervisor{
		Registry:   reg,
		Engine:     eng,
		Manager:    mgr,
		Events:     events,
		Control:    control.New(eng, reg, events),
		reap:       reaper.Reap,
		fileEvents: make(chan conf.FileEvent, 64),
		pollEvery:  200 * time.Millisecond,
		sigset: []os.Signal{
			syscall.SIGCHLD,
			syscall.SIGHUP,
			syscall.SIGUSR1,
			syscall.SIGINT,
			syscall.SIGWINCH,
			syscall.SIGPWR,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if stateful, ok := eng.(interface {
		SetStateHook(func(name string, state job.State))
	}); ok && s.Perf != nil {
		stateful.SetStateHook(func(name string, state job.State) {
			if err := s.Perf.StateChange(name, state.String()); err != nil {
				s.log("perflog: %v", err)
			}
		})
	}
	return s
}

func (s *Supervisor) log(format string, args ...any) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}

// Run services signals, file-watcher notifications, reaped children, and the
// event queue until ctx is cancelled. Each select wake-up handles one ready
// source and then drains the event queue; the order among sources that are
// ready at the same time is not fixed. Kill and daemon-detect timers fire
// independently via internal/timer. Signals, file events, reaping and event
// dispatch are handled on this one goroutine; the watcher goroutines started
// by WatchAsync only forward file events to it.
func (s *Supervisor) Run(ctx context.Context) error {
	s.signals = make(chan os.Signal, len(s.sigset))
	signal.Notify(s.signals, s.sigset...)
	defer signal.Stop(s.signals)

	if err := s.Manager.WatchAsync(s.fileEvents); err != nil {
		return err
	}
	defer s.Manager.Close()

	s.Manager.ReloadAll()
	s.drainEvents()

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-s.signals:
			s.handleSignal(sig)
		case ev := <-s.fileEvents:
			s.Manager.Dispatch(ev)
			s.drainEvents()
		case <-ticker.C:
			s.reapAndDrain()
		}
	}
}

// handleSignal implements spec §6's named signal actions, one per upstart
// signal this core retains. SIGSEGV/SIGABRT's "re-exec a clean child and
// force a core dump" behavior (spec §6) is boot-time process-management
// outside a supervisor main loop's own responsibilities and is left to
// whatever process supervisor starts this binary.
func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGCHLD:
		s.reapAndDrain()
	case syscall.SIGHUP:
		s.Manager.ReloadAll()
		s.drainEvents()
	case syscall.SIGUSR1:
		// Reconnect to the control surface: a no-op here since the surface
		// is an in-process interface, not a socket that can be dropped.
	case syscall.SIGINT:
		s.Events.Emit("control-alt-delete", nil, nil)
		s.drainEvents()
	case syscall.SIGWINCH:
		s.Events.Emit("kbdrequest", nil, nil)
		s.drainEvents()
	case syscall.SIGPWR:
		s.Events.Emit("power-status-changed", nil, nil)
		s.drainEvents()
	}
}

func (s *Supervisor) reapAndDrain() {
	for _, ex := range s.reap() {
		s.Engine.HandleExit(ex.Pid, ex.Status)
	}
	s.drainEvents()
}

// drainEvents implements spec §5 suspension point 5: every pending event is
// matched against every registered class's start_on/stop_on predicates, and
// a matching class's instance goal is flipped accordingly.
func (s *Supervisor) drainEvents() {
	s.Events.Poll(func(ev *event.Event) {
		for _, class := range s.Registry.All() {
			if class.Deleted {
				continue
			}
			if class.StartsOn(ev.Name) {
				inst := s.Engine.Ensure(class.Name, class)
				s.Engine.SetGoal(inst, job.Start)
			}
			if class.StopsOn(ev.Name) {
				inst := s.Engine.Ensure(class.Name, class)
				s.Engine.SetGoal(inst, job.Stop)
			}
		}
	})
}
