package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silverback/initd/internal/process"
	"github.com/silverback/initd/internal/timer"
)

// fakeClock gives the engine's tests deterministic control over the
// respawn-window clock without real sleeps. Its timers never fire;
// collectingClock below lets a test fire kill timers by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer.Timer {
	return &noopTimer{}
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type noopTimer struct{ stopped bool }

func (t *noopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeSpawner hands out incrementing fake pids without forking anything,
// and lets the test script process exits by calling the engine's
// HandleExit directly.
type fakeSpawner struct {
	mu      sync.Mutex
	nextPid int
	spawned []process.Descriptor
}

func newFakeSpawner() *fakeSpawner { return &fakeSpawner{nextPid: 100} }

func (s *fakeSpawner) Spawn(d process.Descriptor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawned = append(s.spawned, d)
	s.nextPid++
	return s.nextPid, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeSpawner, []string) {
	t.Helper()
	spawner := newFakeSpawner()
	var emitted []string
	e := New(spawner, timer.NewService(timer.Real), timer.Real, func(name string, args []string) {
		emitted = append(emitted, name)
	})
	return e, spawner, emitted
}

func TestStartRunStop(t *testing.T) {
	e, spawner, _ := newTestEngine(t)
	class := NewClass("foo", "/etc/init/foo.conf")
	class.StartOn = []string{"startup"}
	class.StopOn = []string{"shutdown"}
	class.Processes[Main] = process.Descriptor{Command: "/bin/echo hi"}

	inst := e.Ensure("foo", class)
	require.Equal(t, Waiting, inst.State)

	e.SetGoal(inst, Start)
	// No pre-start descriptor configured, so the engine steps straight
	// through Starting to Running synchronously.
	require.Equal(t, Running, inst.State)
	require.Equal(t, Active, inst.ProcState)
	require.NotZero(t, inst.Pid)
	require.Len(t, spawner.spawned, 1)

	// reap the main process exiting normally (not declared normal_exit, but
	// respawn disabled -> job stops)
	pid := inst.Pid
	e.HandleExit(pid, 0)

	require.Equal(t, Stop, inst.Goal)
	require.Equal(t, Waiting, inst.State)
	require.Equal(t, None, inst.ProcState)
	require.Equal(t, 0, inst.Pid)
}

func TestNormalExitStopsCleanly(t *testing.T) {
	e, _, _ := newTestEngine(t)
	class := NewClass("foo", "/etc/init/foo.conf")
	class.NormalExit[0] = true
	class.Processes[Main] = process.Descriptor{Command: "/bin/true"}

	inst := e.Ensure("foo", class)
	e.SetGoal(inst, Start)
	require.Equal(t, Running, inst.State)

	e.HandleExit(inst.Pid, 0)
	assert.Equal(t, Stop, inst.Goal)
	assert.Equal(t, Waiting, inst.State)
}

func TestRespawnOnAbnormalExitThenGivesUp(t *testing.T) {
	clock := newFakeClock()
	spawner := newFakeSpawner()
	e := New(spawner, timer.NewService(clock), clock, func(string, []string) {})

	class := NewClass("bar", "/etc/init/bar.conf")
	class.Respawn = true
	class.RespawnLimit = 2
	class.RespawnInterval = 5 * time.Second
	class.Processes[Main] = process.Descriptor{Command: "/bin/false"}

	inst := e.Ensure("bar", class)
	e.SetGoal(inst, Start)
	require.Equal(t, Running, inst.State)

	for i := 0; i < class.RespawnLimit; i++ {
		require.Equal(t, Running, inst.State, "iteration %d", i)
		pid := inst.Pid
		require.NotZero(t, pid)
		e.HandleExit(pid, 1)
		// Respawning has no descriptor configured, so the engine steps
		// straight through back to Running.
		require.Equal(t, Running, inst.State, "iteration %d after respawn", i)
	}

	// One more abnormal exit exceeds the limit.
	e.HandleExit(inst.Pid, 1)
	assert.Equal(t, Stop, inst.Goal)
	assert.Equal(t, Waiting, inst.State)
}

func TestRespawnWindowResetsAfterInterval(t *testing.T) {
	clock := newFakeClock()
	spawner := newFakeSpawner()
	e := New(spawner, timer.NewService(clock), clock, func(string, []string) {})

	class := NewClass("bar", "/etc/init/bar.conf")
	class.Respawn = true
	class.RespawnLimit = 1
	class.RespawnInterval = 5 * time.Second
	class.Processes[Main] = process.Descriptor{Command: "/bin/false"}

	inst := e.Ensure("bar", class)
	e.SetGoal(inst, Start)

	e.HandleExit(inst.Pid, 1)
	require.Equal(t, Running, inst.State)
	require.Equal(t, 1, inst.respawnCount)

	clock.advance(10 * time.Second)
	e.HandleExit(inst.Pid, 1)
	// Window elapsed, so this is the first respawn in a fresh window, not
	// the second in the old one.
	assert.Equal(t, Running, inst.State)
	assert.Equal(t, 1, inst.respawnCount)
}

func TestKillEscalation(t *testing.T) {
	manual := &manualHandleCollector{}
	clock := newFakeClock()
	svc := timer.NewService(&collectingClock{Clock: clock, collector: manual})

	spawner := newFakeSpawner()
	e := New(spawner, svc, clock, func(string, []string) {})

	class := NewClass("stubborn", "/etc/init/stubborn.conf")
	class.KillTimeout = time.Second
	class.Processes[Main] = process.Descriptor{Command: "sleep 100"}

	inst := e.Ensure("stubborn", class)
	e.SetGoal(inst, Start)
	require.Equal(t, Running, inst.State)
	pid := inst.Pid

	e.SetGoal(inst, Stop)
	require.Equal(t, Killed, inst.ProcState)
	require.Equal(t, pid, inst.Pid)
	require.Len(t, manual.handles, 1)

	// Fire the kill timer: escalates to SIGKILL and advances regardless of
	// whether the process actually died.
	manual.handles[0].fire()

	assert.Equal(t, 0, inst.Pid)
	assert.Equal(t, None, inst.ProcState)
	// No post-stop descriptor configured, so Stopping is stepped through
	// immediately to Waiting.
	assert.Equal(t, Waiting, inst.State)

	// A late reap of the original pid must be a silent no-op.
	assert.NotPanics(t, func() { e.HandleExit(pid, 0) })
}

func TestKillCancelledWhenProcessExitsFirst(t *testing.T) {
	manual := &manualHandleCollector{}
	clock := newFakeClock()
	svc := timer.NewService(&collectingClock{Clock: clock, collector: manual})

	spawner := newFakeSpawner()
	e := New(spawner, svc, clock, func(string, []string) {})

	class := NewClass("quick", "/etc/init/quick.conf")
	class.KillTimeout = 5 * time.Second
	class.Processes[Main] = process.Descriptor{Command: "sleep 100"}

	inst := e.Ensure("quick", class)
	e.SetGoal(inst, Start)
	pid := inst.Pid

	e.SetGoal(inst, Stop)
	require.Len(t, manual.handles, 1)
	require.False(t, manual.handles[0].cancelled)

	e.HandleExit(pid, 0)

	assert.True(t, manual.handles[0].cancelled)
	assert.Equal(t, Waiting, inst.State)
}

func TestPreStartRunsBeforeMain(t *testing.T) {
	e, spawner, _ := newTestEngine(t)
	class := NewClass("withpre", "/etc/init/withpre.conf")
	class.Processes[PreStart] = process.Descriptor{Command: "/bin/true"}
	class.Processes[Main] = process.Descriptor{Command: "/bin/sleep 100"}

	inst := e.Ensure("withpre", class)
	e.SetGoal(inst, Start)

	require.Equal(t, Starting, inst.State)
	require.Len(t, spawner.spawned, 1)
	preStartPid := inst.Pid

	e.HandleExit(preStartPid, 0)

	assert.Equal(t, Running, inst.State)
	assert.Len(t, spawner.spawned, 2)
}

func TestTaskWithNoMainOrRespawnDescriptorStopsInsteadOfLooping(t *testing.T) {
	e, spawner, _ := newTestEngine(t)
	class := NewClass("onlypre", "/etc/init/onlypre.conf")
	class.Processes[PreStart] = process.Descriptor{Command: "/bin/true"}

	inst := e.Ensure("onlypre", class)
	e.SetGoal(inst, Start)
	require.Equal(t, Starting, inst.State)
	require.Len(t, spawner.spawned, 1)
	preStartPid := inst.Pid

	// Reaping pre-start drives Starting -> Running -> Respawning -> Running
	// forever, since the class has neither a Main nor a Respawn descriptor.
	// This must terminate rather than recurse without bound.
	e.HandleExit(preStartPid, 0)

	assert.Equal(t, Waiting, inst.State)
	assert.Equal(t, Stop, inst.Goal)
	assert.Equal(t, None, inst.ProcState)
	assert.Len(t, spawner.spawned, 1, "no Main/Respawn descriptor exists to spawn")
}

func TestEmitsStartedAndStoppedEvents(t *testing.T) {
	var emitted []string
	spawner := newFakeSpawner()
	e := New(spawner, timer.NewService(timer.Real), timer.Real, func(name string, args []string) {
		emitted = append(emitted, name)
	})

	class := NewClass("foo", "/etc/init/foo.conf")
	class.Processes[Main] = process.Descriptor{Command: "/bin/true"}
	inst := e.Ensure("foo", class)

	e.SetGoal(inst, Start)
	e.HandleExit(inst.Pid, 0)

	assert.Equal(t, []string{"foo/started", "foo/stopped"}, emitted)
}

func TestIsLiveReflectsRunningProcess(t *testing.T) {
	e, _, _ := newTestEngine(t)
	class := NewClass("foo", "/etc/init/foo.conf")
	class.Processes[Main] = process.Descriptor{Command: "sleep 100"}
	inst := e.Ensure("foo", class)

	assert.False(t, e.IsLive("foo"))
	e.SetGoal(inst, Start)
	assert.True(t, e.IsLive("foo"))

	e.HandleExit(inst.Pid, 0)
	assert.False(t, e.IsLive("foo"))
}

// --- test doubles for timer control ---

type collectingHandle struct {
	f         func()
	cancelled bool
}

func (h *collectingHandle) fire() {
	if !h.cancelled {
		h.f()
	}
}

func (h *collectingHandle) Stop() bool {
	if h.cancelled {
		return false
	}
	h.cancelled = true
	return true
}

type manualHandleCollector struct {
	handles []*collectingHandle
}

type collectingClock struct {
	timer.Clock
	collector *manualHandleCollector
}

func (c *collectingClock) AfterFunc(d time.Duration, f func()) timer.Timer {
	h := &collectingHandle{f: f}
	c.collector.handles = append(c.collector.handles, h)
	return h
}
