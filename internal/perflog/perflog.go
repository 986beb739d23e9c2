// Package perflog implements the performance-log writer named in spec §6:
// one line per job state change, combining a boot-time snapshot with the
// state transition itself. Entries are built as a typed value and only
// formatted to text at write time (spec §9 "Variable-argument formatting
// for performance log... format at flush time").
package perflog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	defaultUptimeFile    = "/proc/uptime"
	defaultDiskstatsFile = "/proc/diskstats"

	missing = "-"

	// diskstatsSectorsReadField is the zero-indexed position of "sectors
	// read" within a real /proc/diskstats line: major, minor and device name
	// are the first three whitespace-separated fields, followed by the
	// per-device stat fields documented in the kernel's iostat.txt, of which
	// sectors-read is the third — zero-indexed position 5 overall. This is
	// deliberately the live /proc/diskstats layout, not a bare "third
	// whitespace field" reading: a diskstats line always carries the
	// identifying columns first.
	diskstatsSectorsReadField = 5
)

// Entry is one state-change record (spec §6 "<uptime_idle> <sectors_read>
// <statechange name state>").
type Entry struct {
	JobName  string
	State    string
	Uptime   string
	Sectors  string
}

// String formats e in the wire format spec §6 names.
func (e Entry) String() string {
	return fmt.Sprintf("%s %s statechange %s %s\n", e.Uptime, e.Sectors, e.JobName, e.State)
}

// Log appends formatted Entry records to an output file, reading fresh
// uptime/diskstats snapshots on every write.
type Log struct {
	w             io.Writer
	closer        io.Closer
	uptimeFile    string
	diskstatsFile string
}

// Open opens (creating/appending) the log file at path. uptimeFile and
// diskstatsFile override the /proc paths read per entry; an empty string
// selects the default.
func Open(path, uptimeFile, diskstatsFile string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return New(f, f, uptimeFile, diskstatsFile), nil
}

// New wraps an already-open writer, for tests and for callers that manage
// the file's lifecycle themselves. closer may be nil.
func New(w io.Writer, closer io.Closer, uptimeFile, diskstatsFile string) *Log {
	if uptimeFile == "" {
		uptimeFile = defaultUptimeFile
	}
	if diskstatsFile == "" {
		diskstatsFile = defaultDiskstatsFile
	}
	return &Log{w: w, closer: closer, uptimeFile: uptimeFile, diskstatsFile: diskstatsFile}
}

// Close closes the underlying file, if Open created one.
func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// StateChange records one job entering a new state, snapshotting uptime and
// disk-activity counters at the moment of the call (spec §6).
func (l *Log) StateChange(jobName, state string) error {
	e := Entry{
		JobName: jobName,
		State:   state,
		Uptime:  readField(l.uptimeFile, 0),
		Sectors: readField(l.diskstatsFile, diskstatsSectorsReadField),
	}
	_, err := io.WriteString(l.w, e.String())
	return err
}

// readField returns the zero-indexed whitespace-separated field from the
// first line of file, or "-" if the file is missing, empty, or the field is
// out of range (spec §6 "substituting - when the source file is missing or
// malformed").
func readField(path string, index int) string {
	f, err := os.Open(path)
	if err != nil {
		return missing
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return missing
	}
	fields := strings.Fields(scanner.Text())
	if index < 0 || index >= len(fields) {
		return missing
	}
	return fields[index]
}
