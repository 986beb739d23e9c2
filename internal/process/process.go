// Package process is the Process Spawner: it forks a child according to a
// process Descriptor, applies resource limits / working directory /
// environment / console redirection, and returns the new PID. It also sends
// signals by PID for the kill protocol (spec §4.3).
package process

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/silverback/initd/internal/logging"
)

// Console selects what the child's standard streams are attached to.
type Console int

const (
	// ConsoleNone redirects stdin/stdout/stderr to /dev/null.
	ConsoleNone Console = iota
	// ConsoleOutput inherits the supervisor's own stdout/stderr.
	ConsoleOutput
	// ConsoleOwner connects the child's standard streams to the console
	// device, or to the supervisor's own streams if it cannot be opened.
	// The console is not made the child's controlling terminal.
	ConsoleOwner
)

const (
	devNull    = "/dev/null"
	devConsole = "/dev/console"
)

// Limit is a single resource limit override (RLIMIT_* name to soft/hard
// values), keyed by the syscall.RLIMIT_* constant.
type Limit struct {
	Resource int
	Soft     uint64
	Hard     uint64
}

// Descriptor is everything the spawner needs to start one process-descriptor
// slot of a job (pre-start, main, post-start, post-stop, or respawn).
type Descriptor struct {
	Command string // shell command, run via /bin/sh -c
	Dir     string
	Env     []string
	Console Console
	Umask   int
	Nice    int
	Limits  []Limit
}

// Spawner starts and signals child processes.
type Spawner struct{}

// NewSpawner returns a ready-to-use Spawner. It carries no state of its own;
// the engine is responsible for tracking which pid belongs to which job.
func NewSpawner() *Spawner {
	return &Spawner{}
}

// Spawn forks and execs the descriptor's command under /bin/sh -c, applying
// directory, environment, console redirection, umask, nice and resource
// limits, and returns the child's pid.
//
// Transient spawn failures (EAGAIN-class, e.g. hitting a process-table
// limit) are retried up to maxSpawnRetries times, spawnRetryDelay apart,
// with a single log line on the first failure; if every retry fails, the
// error is returned. All other errors are returned to the caller at once.
func (s *Spawner) Spawn(d Descriptor) (pid int, err error) {
	shellCmd := d.Command
	if d.Umask != 0 {
		// The umask is process-wide and must be set inside the child
		// before exec; shell it through rather than forking bare, which
		// keeps the spawner free of manual fork/exec bookkeeping.
		shellCmd = fmt.Sprintf("umask %#o; %s", d.Umask, d.Command)
	}

	var cmd *exec.Cmd
	attempt := 0
	for {
		cmd = exec.Command("/bin/sh", "-c", shellCmd)
		cmd.Dir = d.Dir
		cmd.Env = d.Env
		cmd.SysProcAttr = sysProcAttr(d)
		applyConsole(cmd, d.Console)

		err = cmd.Start()
		if err == nil {
			break
		}
		if !isTransient(err) {
			return 0, err
		}
		if attempt == 0 {
			logSpawnRetry(d.Command, err)
		}
		attempt++
		if attempt > maxSpawnRetries {
			return 0, fmt.Errorf("spawn %q: exhausted retries: %w", d.Command, err)
		}
		time.Sleep(spawnRetryDelay)
	}

	if d.Nice != 0 {
		_ = unix.Setpriority(unix.PRIO_PROCESS, cmd.Process.Pid, d.Nice)
	}
	for _, lim := range d.Limits {
		// unix.Setrlimit has no pid argument: it always mutates the calling
		// process, which by this point is the spawner itself, not the child.
		// Prlimit targets the already-started child directly instead.
		rlim := unix.Rlimit{Cur: lim.Soft, Max: lim.Hard}
		_ = unix.Prlimit(cmd.Process.Pid, lim.Resource, &rlim, nil)
	}

	// cmd.Wait is never called here: reaping happens centrally via the
	// Child Reaper's unix.Wait4 loop, not per-process exec.Cmd bookkeeping,
	// so every exited child surfaces through a single sink (spec §2).
	go releaseOnExit(cmd)

	return cmd.Process.Pid, nil
}

const (
	maxSpawnRetries = 20
	spawnRetryDelay = 20 * time.Millisecond
)

func isTransient(err error) bool {
	return err == syscall.EAGAIN
}

// logSpawnRetry is a variable so tests can replace it.
var logSpawnRetry = func(command string, err error) {
	logging.ErrorLog("spawn %q: transient failure, retrying: %v", command, err)
}

// releaseOnExit releases cmd's process handle as soon as Spawn has started
// the child, without waiting for it to exit; the child itself is reaped by
// the Child Reaper's wait4 loop. It deliberately does not call cmd.Wait,
// which would race the Child Reaper for the same pid.
func releaseOnExit(cmd *exec.Cmd) {
	_ = cmd.Process.Release()
}

// Signal sends sig to pid. "no such process" is not an error the caller
// needs to act on: the job is already dead and will be reconciled when the
// reaper observes it (spec §7).
func Signal(pid int, sig syscall.Signal) error {
	err := unix.Kill(pid, sig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

func sysProcAttr(d Descriptor) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setsid: true, // new session and process group led by the child; Signal still targets only the pid
	}
	return attr
}

func applyConsole(cmd *exec.Cmd, console Console) {
	switch console {
	case ConsoleNone:
		null, err := os.OpenFile(devNull, os.O_RDWR, 0)
		if err == nil {
			cmd.Stdin, cmd.Stdout, cmd.Stderr = null, null, null
		}
	case ConsoleOutput:
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	case ConsoleOwner:
		console, err := os.OpenFile(devConsole, os.O_RDWR, 0)
		if err == nil {
			cmd.Stdin, cmd.Stdout, cmd.Stderr = console, console, console
		} else {
			cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		}
	}
}
