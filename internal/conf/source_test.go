package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silverback/initd/internal/job"
)

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestReloadJobDirYieldsClassesForEachConfFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	write(t, filepath.Join(dir, "foo.conf"), "exec /bin/true\n")
	write(t, filepath.Join(dir, "nested", "bar.conf"), "exec /bin/false\n")

	s := NewSource(JobDir, dir, 0)
	changed, removed, errs := s.Reload()

	assert.Empty(t, errs)
	assert.Empty(t, removed)
	assert.Len(t, changed, 2)

	names := map[string]bool{}
	for _, cf := range changed {
		names[cf.Class.Name] = true
	}
	assert.True(t, names["foo"])
	assert.True(t, names[filepath.Join("nested", "bar")])
}

func TestReloadAppliesOverrideRegardlessOfScanOrder(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "svc.conf"), "exec /bin/true\nnice 0\n")
	write(t, filepath.Join(dir, "svc.override"), "nice 10\n")

	s := NewSource(JobDir, dir, 0)
	_, _, errs := s.Reload()
	require.Empty(t, errs)

	cf := s.Files[filepath.Join(dir, "svc.conf")]
	require.NotNil(t, cf.Class)
	assert.Equal(t, 10, cf.Class.Processes[job.Main].Nice)
}

func TestReloadSweepsFilesThatDisappeared(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.conf")
	write(t, path, "exec /bin/true\n")

	s := NewSource(JobDir, dir, 0)
	_, _, errs := s.Reload()
	require.Empty(t, errs)
	require.Len(t, s.Files, 1)

	require.NoError(t, os.Remove(path))
	changed, removed, errs := s.Reload()
	require.Empty(t, errs)
	assert.Empty(t, changed)
	require.Len(t, removed, 1)
	assert.Equal(t, path, removed[0].Path)
	assert.Empty(t, s.Files)
}

func TestReloadIdempotentWithNoFilesystemChange(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "foo.conf"), "exec /bin/true\n")

	s := NewSource(JobDir, dir, 0)
	s.Reload()
	first := s.Files[filepath.Join(dir, "foo.conf")].Class.Name

	changed, removed, errs := s.Reload()
	require.Empty(t, errs)
	assert.Empty(t, removed)
	require.Len(t, changed, 1)
	assert.Equal(t, first, changed[0].Class.Name)
}

func TestOrphanOverrideIsLoggedAndIgnored(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "svc.override"), "nice 10\n")

	s := NewSource(JobDir, dir, 0)
	changed, _, errs := s.Reload()

	require.Len(t, errs, 1)
	assert.Empty(t, changed)
}

func TestReloadStdThenOverrideIncremental(t *testing.T) {
	dir := t.TempDir()
	stdPath := filepath.Join(dir, "svc.conf")
	write(t, stdPath, "exec /bin/true\nnice 0\n")

	s := NewSource(JobDir, dir, 0)
	cf, ocf, err := s.ReloadStd(stdPath)
	require.NoError(t, err)
	require.NotNil(t, cf.Class)
	assert.Nil(t, ocf)

	overridePath := filepath.Join(dir, "svc.override")
	write(t, overridePath, "nice 10\n")
	cf, ocf, err = s.ReloadStd(stdPath) // re-modify of the std re-layers the override
	require.NoError(t, err)
	require.NotNil(t, ocf)
	assert.Equal(t, 10, cf.Class.Processes[job.Main].Nice)
}

func TestRemoveOverrideRevertsToStd(t *testing.T) {
	dir := t.TempDir()
	stdPath := filepath.Join(dir, "svc.conf")
	overridePath := filepath.Join(dir, "svc.override")
	write(t, stdPath, "exec /bin/true\nnice 0\n")
	write(t, overridePath, "nice 10\n")

	s := NewSource(JobDir, dir, 0)
	_, _, err := s.Reload()
	require.Empty(t, err)
	require.NoError(t, os.Remove(overridePath))

	cf, err := s.RemoveOverride(overridePath)
	require.NoError(t, err)
	require.NotNil(t, cf.Class)
	assert.Equal(t, 0, cf.Class.Processes[job.Main].Nice)
}

func TestRemoveStdDropsOverrideToo(t *testing.T) {
	dir := t.TempDir()
	stdPath := filepath.Join(dir, "svc.conf")
	overridePath := filepath.Join(dir, "svc.override")
	write(t, stdPath, "exec /bin/true\n")
	write(t, overridePath, "nice 10\n")

	s := NewSource(JobDir, dir, 0)
	s.Reload()
	require.Len(t, s.Files, 2)

	cf := s.RemoveStd(stdPath)
	require.NotNil(t, cf)
	assert.Empty(t, s.Files)
}

func TestSingleFileSourceName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.conf")
	write(t, path, "exec /bin/true\n")

	s := NewSource(SingleFile, path, 0)
	changed, _, errs := s.Reload()
	require.Empty(t, errs)
	require.Len(t, changed, 1)
	assert.Equal(t, "init", changed[0].Class.Name)
}
