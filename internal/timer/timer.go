// Package timer provides the monotonic clock and single-shot timer
// registration used by the job lifecycle engine for kill and daemon-detect
// timeouts (spec §2, §5).
package timer

import "time"

// Clock is a monotonic time source. The real implementation wraps the
// standard library; tests substitute a fake clock so timer firings are
// deterministic instead of racing wall-clock sleeps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a single-shot, explicitly cancellable timer handle.
type Timer interface {
	// Stop cancels the timer. Returns false if the timer already fired or
	// was already stopped.
	Stop() bool
}

// realClock backs Clock with time.AfterFunc.
type realClock struct{}

// Real is the production Clock, backed by the operating system's monotonic
// clock via the standard time package.
var Real Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Stop() bool { return r.t.Stop() }

// Service registers single-shot timers against a Clock and guarantees
// that Cancel is idempotent and safe even after the timer has already fired.
type Service struct {
	clock Clock
}

// NewService returns a Service driven by clock. Pass timer.Real in
// production; pass a fake Clock in tests.
func NewService(clock Clock) *Service {
	if clock == nil {
		clock = Real
	}
	return &Service{clock: clock}
}

// Handle is a cancellable registration returned by Service.After.
type Handle struct {
	timer     Timer
	cancelled bool
}

// After arms a single-shot timer that invokes f after d elapses, unless
// Cancel is called first. f runs on the clock's own goroutine (for Real,
// a goroutine spawned by time.AfterFunc) — callers that touch engine state
// from f must hand off to the main loop rather than mutate it directly,
// per spec §5's single-threaded ownership model.
func (s *Service) After(d time.Duration, f func()) *Handle {
	h := &Handle{}
	h.timer = s.clock.AfterFunc(d, f)
	return h
}

// Cancel stops the timer if it has not already fired. Safe to call multiple
// times and safe to call after the timer has fired.
func (h *Handle) Cancel() {
	if h == nil || h.cancelled {
		return
	}
	h.cancelled = true
	if h.timer != nil {
		h.timer.Stop()
	}
}
