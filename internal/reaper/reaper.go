// Package reaper is the Child Reaper: it surfaces every child exit as
// (pid, killed?, status) to a single sink, draining all currently-exited
// children in one non-blocking pass per main-loop iteration (spec §2, §5
// suspension point 3).
package reaper

import "golang.org/x/sys/unix"

// Exit describes one reaped child.
type Exit struct {
	Pid    int
	Killed bool // true if the process died from a signal rather than exiting
	Status int  // exit code, or the signal number when Killed
}

// Reap performs one non-blocking wait4 loop, collecting every child that has
// already exited. It never blocks: a child still running is simply absent
// from the returned slice, and Reap returns as soon as wait4 reports
// ECHILD (no children left) or WNOHANG finds nothing more to reap.
//
// Grounded on the same unix.Wait4(-1, ..., WNOHANG, nil) loop used to reap
// subprocesses outside the supervisor's own wait() bookkeeping, the
// technique a process-1-style supervisor needs because it owns every
// child in the system, not just ones it exec'd itself.
func Reap() []Exit {
	var exits []Exit
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		switch {
		case err == unix.ECHILD:
			return exits
		case err != nil:
			return exits
		case pid <= 0:
			return exits
		}

		exit := Exit{Pid: pid}
		switch {
		case status.Exited():
			exit.Status = status.ExitStatus()
		case status.Signaled():
			exit.Killed = true
			exit.Status = int(status.Signal())
		}
		exits = append(exits, exit)
	}
}
