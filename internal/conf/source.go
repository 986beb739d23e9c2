// Package conf implements the Configuration Manager: a priority-ordered list
// of Sources, each owning a path → ConfFile mapping, translating filesystem
// state into parsed JobClasses (spec §4.1). Reload is driven either in full
// (startup, SIGHUP) or incrementally from individual File Watcher
// notifications.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/silverback/initd/internal/job"
	"github.com/silverback/initd/internal/parse"
)

// Kind distinguishes the three source shapes named in spec §3.
type Kind int

const (
	SingleFile Kind = iota
	PlainDir
	JobDir
)

// Recognized file extensions (spec §4.1 "Filename rules"). StdExt sorts
// before OverrideExt lexicographically, a fact the legacy scan-order
// dependency relied on; this implementation instead does an explicit
// two-pass walk (see Reload) so the ordering is no longer load-bearing.
const (
	StdExt      = ".conf"
	OverrideExt = ".override"
)

// ConfFile is one file known to a Source (spec §3 ConfFile).
type ConfFile struct {
	Path   string
	Source *Source
	Epoch  bool
	Class  *job.Class // non-nil only for a parsed std file that owns a class
	Err    error       // last parse error, if any; Class is nil when set
}

// Source is a priority-ranked filesystem location supplying configuration
// (spec §3 ConfigSource, §4.1).
type Source struct {
	Kind     Kind
	Root     string
	Priority int
	Epoch    bool

	Files map[string]*ConfFile
}

// NewSource returns an empty, never-yet-reloaded Source.
func NewSource(kind Kind, root string, priority int) *Source {
	return &Source{
		Kind:     kind,
		Root:     root,
		Priority: priority,
		Files:    make(map[string]*ConfFile),
	}
}

// IsStd reports whether path has the std extension.
func IsStd(path string) bool { return strings.HasSuffix(path, StdExt) }

// IsOverride reports whether path has the override extension.
func IsOverride(path string) bool { return strings.HasSuffix(path, OverrideExt) }

// siblingPath swaps the extension on path, used to find N.conf's override or
// N.override's std sibling.
func siblingPath(path, from, to string) string {
	return strings.TrimSuffix(path, from) + to
}

// Ignore reports whether a path should never be treated as a config file:
// hidden files and common editor swap/backup suffixes (spec §4.4 "skip
// standard ignored names").
func Ignore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}

// Accept is the filter predicate the File Watcher uses for this source
// (spec §4.4 "Filter rules").
func (s *Source) Accept(path string, isDir bool) bool {
	switch s.Kind {
	case SingleFile:
		if isDir {
			return path == filepath.Dir(s.Root) // the watch root itself, to catch rename-over-write
		}
		return path == s.Root || path == siblingPath(s.Root, StdExt, OverrideExt)
	default:
		if isDir {
			return true
		}
		if Ignore(path) {
			return false
		}
		return IsStd(path) || IsOverride(path)
	}
}

// NameFor computes a JobClass's name from its std file's path, relative to
// the source root with the extension stripped, preserving directory
// separators (spec §6 "directory separators are preserved in the name").
func (s *Source) NameFor(path string) string {
	if s.Kind == SingleFile {
		return strings.TrimSuffix(filepath.Base(s.Root), StdExt)
	}
	rel, err := filepath.Rel(s.Root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return strings.TrimSuffix(rel, StdExt)
}

// Reload performs a full pass over the source: a two-pass walk (every std
// file, then every override) so the merge never depends on lexicographic
// scan order (spec §9 "Open question", redesigned here per its own
// recommendation). It returns every ConfFile touched this pass and every
// ConfFile that did not survive (carried the previous epoch at sweep time).
func (s *Source) Reload() (changed, removed []*ConfFile, errs []error) {
	s.Epoch = !s.Epoch

	stdPaths, overridePaths, err := s.walk()
	if err != nil {
		return nil, nil, []error{err}
	}
	sort.Strings(stdPaths)
	sort.Strings(overridePaths)

	for _, path := range stdPaths {
		cf, err := s.loadStd(path)
		changed = append(changed, cf)
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, path := range overridePaths {
		cf, err := s.loadOverride(path)
		if cf != nil {
			changed = append(changed, cf)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	for path, cf := range s.Files {
		if cf.Epoch != s.Epoch {
			delete(s.Files, path)
			removed = append(removed, cf)
		}
	}
	return changed, removed, errs
}

func (s *Source) walk() (stdPaths, overridePaths []string, err error) {
	switch s.Kind {
	case SingleFile:
		if _, err := os.Stat(s.Root); err == nil {
			stdPaths = append(stdPaths, s.Root)
		}
		override := siblingPath(s.Root, StdExt, OverrideExt)
		if _, err := os.Stat(override); err == nil {
			overridePaths = append(overridePaths, override)
		}
		return stdPaths, overridePaths, nil

	case PlainDir:
		entries, err := os.ReadDir(s.Root)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(s.Root, e.Name())
			classify(path, &stdPaths, &overridePaths)
		}
		return stdPaths, overridePaths, nil

	default: // JobDir
		err := filepath.WalkDir(s.Root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			classify(path, &stdPaths, &overridePaths)
			return nil
		})
		return stdPaths, overridePaths, err
	}
}

func classify(path string, stdPaths, overridePaths *[]string) {
	if Ignore(path) {
		return
	}
	switch {
	case IsStd(path):
		*stdPaths = append(*stdPaths, path)
	case IsOverride(path):
		*overridePaths = append(*overridePaths, path)
	}
}

// loadStd parses path fresh, replacing any existing ConfFile for it (spec
// §4.1 "parse it, yielding a JobClass J").
func (s *Source) loadStd(path string) (*ConfFile, error) {
	cf := &ConfFile{Path: path, Source: s, Epoch: s.Epoch}
	name := s.NameFor(path)
	class, err := parse.ParseFile(name, path)
	if err != nil {
		cf.Err = err
		s.Files[path] = cf
		return cf, fmt.Errorf("%s: %w", path, err)
	}
	cf.Class = class
	s.Files[path] = cf
	return cf, nil
}

// loadOverride layers path onto its sibling std's already-parsed JobClass
// (spec §4.1 "Merge semantics"). An orphan override — no sibling std
// ConfFile — is logged and ignored, matching upstart's documented behavior.
func (s *Source) loadOverride(path string) (*ConfFile, error) {
	stdPath := siblingPath(path, OverrideExt, StdExt)
	sibling, ok := s.Files[stdPath]
	if !ok || sibling.Class == nil {
		return nil, fmt.Errorf("%s: orphan override, no sibling %s", path, stdPath)
	}

	cf := &ConfFile{Path: path, Source: s, Epoch: s.Epoch}
	if err := parse.ApplyOverride(sibling.Class, path); err != nil {
		cf.Err = err
		s.Files[path] = cf
		return cf, fmt.Errorf("%s: %w", path, err)
	}
	s.Files[path] = cf
	return cf, nil
}

// ReloadStd reacts to a create/modify of a single std file, re-parsing it
// and re-layering its override sibling if one is already known (spec §4.1
// "Reload on change").
func (s *Source) ReloadStd(path string) (*ConfFile, *ConfFile, error) {
	cf, err := s.loadStd(path)
	if err != nil {
		return cf, nil, err
	}

	overridePath := siblingPath(path, StdExt, OverrideExt)
	if _, statErr := os.Stat(overridePath); statErr != nil {
		return cf, nil, nil
	}
	ocf, oerr := s.loadOverride(overridePath)
	return cf, ocf, oerr
}

// ReloadOverride reacts to a create/modify of a single override file. If its
// std sibling is already known, the std is reloaded first (discarding any
// previous override effect) before the new override is layered (spec §4.1).
func (s *Source) ReloadOverride(path string) (*ConfFile, *ConfFile, error) {
	stdPath := siblingPath(path, OverrideExt, StdExt)
	if _, ok := s.Files[stdPath]; !ok {
		if _, err := os.Stat(stdPath); err != nil {
			return nil, nil, fmt.Errorf("%s: orphan override, no sibling %s", path, stdPath)
		}
	}
	scf, serr := s.loadStd(stdPath)
	if serr != nil {
		return scf, nil, serr
	}
	ocf, oerr := s.loadOverride(path)
	return scf, ocf, oerr
}

// RemoveStd handles deletion of a std file: the ConfFile is unlinked. The
// caller (Manager) is responsible for the job-handoff consequences in
// spec §4.2.
func (s *Source) RemoveStd(path string) *ConfFile {
	cf, ok := s.Files[path]
	if !ok {
		return nil
	}
	delete(s.Files, path)
	overridePath := siblingPath(path, StdExt, OverrideExt)
	delete(s.Files, overridePath)
	return cf
}

// RemoveOverride handles deletion of an override file: the sibling std is
// reloaded to revert the merged state (spec §4.1 "Delete of .override").
func (s *Source) RemoveOverride(path string) (*ConfFile, error) {
	delete(s.Files, path)
	stdPath := siblingPath(path, OverrideExt, StdExt)
	if _, err := os.Stat(stdPath); err != nil {
		return nil, nil
	}
	cf, err := s.loadStd(stdPath)
	return cf, err
}
