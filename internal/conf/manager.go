package conf

import (
	"path/filepath"

	"github.com/silverback/initd/internal/registry"
	"github.com/silverback/initd/internal/watch"
)

// Manager owns the priority-ordered source list and keeps the Registry in
// sync with the filesystem, either via a full Reload or incrementally from
// File Watcher notifications (spec §4.1, §4.2).
type Manager struct {
	sources  []*Source
	registry *registry.Registry
	watchers []*watch.Watcher
	logf     func(format string, args ...any)
}

// NewManager returns a Manager with no sources yet. logf receives
// configuration-error reports (spec §7 "path:line: message"); it may be nil.
func NewManager(reg *registry.Registry, logf func(format string, args ...any)) *Manager {
	return &Manager{registry: reg, logf: logf}
}

func (m *Manager) log(format string, args ...any) {
	if m.logf != nil {
		m.logf(format, args...)
	}
}

// AddSource appends a new lowest-priority source (spec §3 "Ordering in the
// global list defines priority; first entry wins").
func (m *Manager) AddSource(kind Kind, root string) *Source {
	s := NewSource(kind, root, len(m.sources))
	m.sources = append(m.sources, s)
	return s
}

// Sources returns every configured source, in priority order.
func (m *Manager) Sources() []*Source { return m.sources }

// ReloadAll performs a full Reload pass over every source in priority
// order, propagating every resulting class into the registry (startup, and
// spec scenario "Hangup reload").
func (m *Manager) ReloadAll() {
	for _, s := range m.sources {
		changed, removed, errs := s.Reload()
		for _, err := range errs {
			m.log("%v", err)
		}
		m.install(s, changed)
		m.remove(s, removed)
	}
}

// Watch starts a File Watcher on every source, wiring its create/modify/
// delete callbacks to the per-file reload methods described in spec §4.1
// "Reload on change". recursive selects recursive vs. top-level-only
// traversal for directory sources; single-file sources are always
// non-recursive (the watch sits on the parent directory, spec §4.4).
func (m *Manager) Watch() error {
	for _, s := range m.sources {
		recursive := s.Kind == JobDir
		root := s.Root
		if s.Kind == SingleFile {
			root = filepath.Dir(s.Root)
		}

		w, err := watch.New(root, recursive, s.Accept, watch.Handlers{
			Create: func(path string) { m.onCreateOrModify(s, path) },
			Modify: func(path string) { m.onCreateOrModify(s, path) },
			Delete: func(path string) { m.onDelete(s, path) },
		})
		if err != nil {
			// Directory-walk fallback (spec §4.1): the reload that already
			// happened via ReloadAll stands; future changes just won't be
			// seen, which is downgraded to a warning, not a fatal error.
			m.log("watch unavailable for %s, falling back to static load: %v", s.Root, err)
			continue
		}
		m.watchers = append(m.watchers, w)
	}
	return nil
}

// Close stops every running watcher.
func (m *Manager) Close() {
	for _, w := range m.watchers {
		w.Close()
	}
}

// FileEvent names one filesystem change a watcher observed, queued for the
// Supervisor's main loop to dispatch synchronously (spec §5 "drain the file
// watcher's buffered notifications").
type FileEvent struct {
	Source *Source
	Path   string
	Delete bool
}

// WatchAsync starts a File Watcher on every source, same as Watch, but
// pushes every notification onto events instead of handling it inline — the
// watcher's own goroutine never touches Source or Registry state, keeping
// every mutation on the Supervisor's single loop goroutine (spec §5
// "Scheduling model"). Call Dispatch once per event drained from the
// channel.
func (m *Manager) WatchAsync(events chan<- FileEvent) error {
	for _, s := range m.sources {
		recursive := s.Kind == JobDir
		root := s.Root
		if s.Kind == SingleFile {
			root = filepath.Dir(s.Root)
		}
		src := s

		w, err := watch.New(root, recursive, s.Accept, watch.Handlers{
			Create: func(path string) { events <- FileEvent{Source: src, Path: path} },
			Modify: func(path string) { events <- FileEvent{Source: src, Path: path} },
			Delete: func(path string) { events <- FileEvent{Source: src, Path: path, Delete: true} },
		})
		if err != nil {
			m.log("watch unavailable for %s, falling back to static load: %v", s.Root, err)
			continue
		}
		m.watchers = append(m.watchers, w)
	}
	return nil
}

// Dispatch processes one FileEvent synchronously, the async counterpart of
// Watch's inline handlers.
func (m *Manager) Dispatch(ev FileEvent) {
	if ev.Delete {
		m.onDelete(ev.Source, ev.Path)
	} else {
		m.onCreateOrModify(ev.Source, ev.Path)
	}
}

func (m *Manager) onCreateOrModify(s *Source, path string) {
	switch {
	case IsStd(path):
		cf, ocf, err := s.ReloadStd(path)
		if err != nil {
			m.log("%v", err)
		}
		m.installOne(s, cf)
		m.installOne(s, ocf)
	case IsOverride(path):
		cf, ocf, err := s.ReloadOverride(path)
		if err != nil {
			m.log("%v", err)
			return
		}
		m.installOne(s, cf)
		m.installOne(s, ocf)
	}
}

func (m *Manager) onDelete(s *Source, path string) {
	switch {
	case IsStd(path):
		cf := s.RemoveStd(path)
		if cf == nil || cf.Class == nil {
			return
		}
		m.registry.Remove(cf.Class.Name, cf.Class)
		m.reselect(cf.Class.Name)
	case IsOverride(path):
		cf, err := s.RemoveOverride(path)
		if err != nil {
			m.log("%v", err)
			return
		}
		m.installOne(s, cf)
	}
}

func (m *Manager) install(s *Source, changed []*ConfFile) {
	for _, cf := range changed {
		m.installOne(s, cf)
	}
}

func (m *Manager) installOne(s *Source, cf *ConfFile) {
	if cf == nil {
		return
	}
	if cf.Err != nil {
		m.log("%v", cf.Err)
	}
	if cf.Class != nil {
		m.registry.Install(cf.Class.Name, cf.Class, s.Priority)
	}
}

func (m *Manager) remove(s *Source, removed []*ConfFile) {
	for _, cf := range removed {
		if cf.Class == nil {
			continue
		}
		m.registry.Remove(cf.Class.Name, cf.Class)
		m.reselect(cf.Class.Name)
	}
}

// reselect re-examines every source for name after a removal, installing the
// highest-priority surviving class, if any (spec scenario "Priority
// shadowing").
func (m *Manager) reselect(name string) {
	for _, s := range m.sources {
		for _, cf := range s.Files {
			if cf.Class != nil && cf.Class.Name == name {
				m.registry.Install(name, cf.Class, s.Priority)
				return
			}
		}
	}
}
