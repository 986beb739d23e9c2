package process

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitForFile(t *testing.T, path string, timeout time.Duration) []byte {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b, err := os.ReadFile(path); err == nil {
			return b
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
	return nil
}

func TestSpawnRunsCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	s := NewSpawner()
	pid, err := s.Spawn(Descriptor{
		Command: "echo hello > " + out,
		Console: ConsoleNone,
	})
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	data := waitForFile(t, out, time.Second)
	assert.Equal(t, "hello\n", string(data))
}

func TestSpawnAppliesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()

	s := NewSpawner()
	pid, err := s.Spawn(Descriptor{
		Command: "pwd > out",
		Dir:     dir,
		Console: ConsoleNone,
	})
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	data := waitForFile(t, filepath.Join(dir, "out"), time.Second)
	assert.Equal(t, dir+"\n", string(data))
}

func TestSpawnAppliesEnvironment(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	s := NewSpawner()
	pid, err := s.Spawn(Descriptor{
		Command: "echo $FOO > " + out,
		Env:     []string{"FOO=bar", "PATH=" + os.Getenv("PATH")},
		Console: ConsoleNone,
	})
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	data := waitForFile(t, out, time.Second)
	assert.Equal(t, "bar\n", string(data))
}

func TestSpawnAppliesUmask(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	s := NewSpawner()
	pid, err := s.Spawn(Descriptor{
		Command: "umask > " + out,
		Umask:   0o077,
		Console: ConsoleNone,
	})
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	data := waitForFile(t, out, time.Second)
	assert.Contains(t, string(data), "0077")
}

func TestSpawnAppliesLimitToChildNotCaller(t *testing.T) {
	var before unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &before))

	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	s := NewSpawner()
	pid, err := s.Spawn(Descriptor{
		Command: "ulimit -n > " + out,
		Console: ConsoleNone,
		Limits:  []Limit{{Resource: unix.RLIMIT_NOFILE, Soft: 123, Hard: 123}},
	})
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	waitForFile(t, out, time.Second)

	var after unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &after))
	assert.Equal(t, before, after, "Spawn must never mutate the caller's own resource limits")
}

func TestSpawnAcceptsEmptyCommand(t *testing.T) {
	// Spawn itself never validates the command string; an empty command is
	// valid shell input (it simply exits 0). This test documents that
	// validation of "is this job runnable at all" belongs to the config
	// manager / parser, not the spawner.
	s := NewSpawner()
	pid, err := s.Spawn(Descriptor{Command: "", Console: ConsoleNone})
	require.NoError(t, err)
	assert.Greater(t, pid, 0)
}

func TestSignalNoSuchProcessIsNotAnError(t *testing.T) {
	// A pid that (almost certainly) doesn't exist.
	err := Signal(1<<30, syscall.SIGTERM)
	assert.NoError(t, err)
}

func TestSignalDeliversToRunningProcess(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	s := NewSpawner()
	pid, err := s.Spawn(Descriptor{
		Command: "trap 'echo trapped > " + out + "; exit 0' TERM; sleep 5",
		Console: ConsoleNone,
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, Signal(pid, syscall.SIGTERM))

	data := waitForFile(t, out, 2*time.Second)
	assert.Equal(t, "trapped\n", string(data))
}
