// Package control implements the control surface named in spec §6: list,
// start/stop/status, and emit, exposed as a Go interface rather than over a
// wire transport (transport is explicitly out of scope per spec §1).
package control

import (
	"fmt"

	"github.com/silverback/initd/internal/event"
	"github.com/silverback/initd/internal/job"
	"github.com/silverback/initd/internal/registry"
)

// UnknownJobError is returned when a start/stop/status call names a job with
// no authoritative class in the registry.
type UnknownJobError struct{ Name string }

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown job %q", e.Name)
}

// Surface is the control contract spec §6 names: "list", "start(name)" /
// "stop(name)" / "status(name)", and "emit(name, args...)".
type Surface interface {
	List() []job.Status
	Start(name string) error
	Stop(name string) error
	Status(name string) (job.Status, error)
	Emit(name string, args []string, env map[string]string)
}

// Engine is the subset of *job.Engine the control surface drives.
type Engine interface {
	Ensure(name string, class *job.Class) *job.Instance
	Lookup(name string) (*job.Instance, bool)
	List() []job.Status
	SetGoal(inst *job.Instance, goal job.Goal)
}

// surface is the Supervisor's direct, in-process implementation of Surface.
type surface struct {
	engine   Engine
	registry *registry.Registry
	events   *event.Queue
}

// New returns the Supervisor's control Surface, backed directly by the
// engine, registry and event queue (no wire transport; spec §1 "we specify
// the control surface the core exposes, not the wire protocol").
func New(engine Engine, reg *registry.Registry, events *event.Queue) Surface {
	return &surface{engine: engine, registry: reg, events: events}
}

func (s *surface) List() []job.Status {
	return s.engine.List()
}

func (s *surface) Start(name string) error {
	inst, err := s.resolve(name)
	if err != nil {
		return err
	}
	s.engine.SetGoal(inst, job.Start)
	return nil
}

func (s *surface) Stop(name string) error {
	inst, err := s.resolve(name)
	if err != nil {
		return err
	}
	s.engine.SetGoal(inst, job.Stop)
	return nil
}

func (s *surface) Status(name string) (job.Status, error) {
	inst, ok := s.engine.Lookup(name)
	if !ok {
		class, ok := s.registry.Lookup(name)
		if !ok {
			return job.Status{}, &UnknownJobError{Name: name}
		}
		inst = s.engine.Ensure(name, class)
	}
	return job.Status{
		Name:      inst.Name,
		Goal:      inst.Goal,
		State:     inst.State,
		ProcState: inst.ProcState,
		Pid:       inst.Pid,
	}, nil
}

func (s *surface) Emit(name string, args []string, env map[string]string) {
	s.events.Emit(name, args, env)
}

// resolve finds or creates the instance backing name, consulting the
// registry for a class if the engine has never instantiated it (spec §4.3
// "singleton or newly created instance").
func (s *surface) resolve(name string) (*job.Instance, error) {
	if inst, ok := s.engine.Lookup(name); ok {
		return inst, nil
	}
	class, ok := s.registry.Lookup(name)
	if !ok {
		return nil, &UnknownJobError{Name: name}
	}
	return s.engine.Ensure(name, class), nil
}
