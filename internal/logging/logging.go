// Package logging provides a package-level Debug switch plus a handful of
// gated helpers, rather than a structured logging library. Extended with
// info/warn/error levels so the reload, lifecycle and reaper packages can
// report problems per spec §7 without ever terminating the process.
package logging

import "log"

// Debug enables verbose diagnostic output. Off by default.
var Debug = false

// DebugLog prints only when Debug is set, for step-by-step tracing.
func DebugLog(format string, v ...any) {
	if Debug {
		log.Printf("[debug] "+format, v...)
	}
}

// InfoLog reports routine lifecycle events: a job started, a config file
// reloaded.
func InfoLog(format string, v ...any) {
	log.Printf("[info] "+format, v...)
}

// WarnLog reports a recoverable problem, e.g. a malformed configuration
// stanza (spec §7 "a malformed stanza must not prevent every other
// well-formed job in the same source from loading").
func WarnLog(format string, v ...any) {
	log.Printf("[warn] "+format, v...)
}

// ErrorLog reports a problem serious enough to note but never fatal to the
// supervisor process itself (spec §7).
func ErrorLog(format string, v ...any) {
	log.Printf("[error] "+format, v...)
}
