package job

import (
	"time"

	"github.com/silverback/initd/internal/process"
)

// Slot names one of a job's process descriptors.
type Slot int

const (
	PreStart Slot = iota
	Main
	PostStart
	PostStop
	Respawn
)

func (s Slot) String() string {
	switch s {
	case PreStart:
		return "pre-start"
	case Main:
		return "main"
	case PostStart:
		return "post-start"
	case PostStop:
		return "post-stop"
	case Respawn:
		return "respawn"
	}
	return "unknown"
}

// slotsFor lists, in order, the slots the engine runs while entering state.
// A state is skipped via next_state if its slot has no descriptor (spec
// §4.3 "Entry actions").
func slotsFor(state State) []Slot {
	switch state {
	case Starting:
		return []Slot{PreStart}
	case Running:
		return []Slot{Main}
	case Stopping:
		return []Slot{PostStop}
	case Respawning:
		return []Slot{Respawn}
	}
	return nil
}

// Default respawn-window parameters, matching upstart's historical
// defaults: at most 10 respawns within a rolling 5 second window before the
// engine gives up and flips the goal to stop.
const (
	DefaultRespawnLimit    = 10
	DefaultRespawnInterval = 5 * time.Second
	DefaultKillTimeout     = 5 * time.Second
)

// Class is the static description of a job (spec §3 JobClass). A Class with
// Deleted = true must not start new instances; it is a tombstone kept alive
// only until its last referring Job reaches (stop, waiting).
type Class struct {
	Name string
	Path string // originating ConfFile path

	StartOn []string // event names that flip goal to start
	StopOn  []string // event names that flip goal to stop
	Emits   []string

	Processes map[Slot]process.Descriptor

	KillTimeout time.Duration
	PidTimeout  time.Duration // daemon-detect timeout; 0 disables detection

	Respawn         bool
	NormalExit      map[int]bool
	RespawnLimit    int
	RespawnInterval time.Duration

	Daemon bool

	Deleted bool
}

// NewClass returns a Class with spec-documented defaults applied, ready to
// be populated by the parser.
func NewClass(name, path string) *Class {
	return &Class{
		Name:            name,
		Path:            path,
		Processes:       make(map[Slot]process.Descriptor),
		NormalExit:      make(map[int]bool),
		KillTimeout:     DefaultKillTimeout,
		RespawnLimit:    DefaultRespawnLimit,
		RespawnInterval: DefaultRespawnInterval,
	}
}

// StartsOn reports whether name appears in the class's start_on set.
func (c *Class) StartsOn(name string) bool {
	return contains(c.StartOn, name)
}

// StopsOn reports whether name appears in the class's stop_on set.
func (c *Class) StopsOn(name string) bool {
	return contains(c.StopOn, name)
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// IsNormalExit reports whether status is in the class's normal_exit set.
func (c *Class) IsNormalExit(status int) bool {
	return c.NormalExit[status]
}
