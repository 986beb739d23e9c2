// Package watch implements the File Watcher (spec §4.4): a per-directory
// change notifier that delivers create/modify/delete events for individual
// paths, filtered by a caller-supplied predicate. Watches are recursive for
// job directories and non-recursive for single-file sources, which watch
// their parent directory to catch rename-over-write.
package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/silverback/initd/internal/logging"
)

// Filter decides whether a path should be surfaced to the handlers. is_dir
// lets job-directory watchers recurse into subdirectories without treating
// the directory itself as a qualifying file.
type Filter func(path string, isDir bool) bool

// Handlers are invoked once per qualifying filesystem change.
type Handlers struct {
	Create func(path string)
	Modify func(path string)
	Delete func(path string)
}

// Watcher watches one root path (a directory, or the parent of a
// single-file source) and reports changes through Handlers.
type Watcher struct {
	root      string
	recursive bool
	filter    Filter
	handlers  Handlers
	fsw       *fsnotify.Watcher
	done      chan struct{}
}

// New creates a Watcher rooted at root. If recursive, every subdirectory
// encountered during the initial walk (and every subdirectory created
// afterwards) is also watched. The initial walk always runs so pre-existing
// files are delivered as Create events, matching spec §4.4's contract that
// watcher creation performs the first directory walk.
//
// If the underlying watcher cannot be created (unsupported OS, permission
// denied), New returns a non-nil error; callers should fall back to a
// one-shot Walk (spec §4.1's directory-walk fallback) rather than treat this
// as fatal.
func New(root string, recursive bool, filter Filter, handlers Handlers) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:      root,
		recursive: recursive,
		filter:    filter,
		handlers:  handlers,
		fsw:       fsw,
		done:      make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	w.walkExisting(root)

	return w, nil
}

func (w *Watcher) addTree(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return err
	}
	if !w.recursive {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort: a single unreadable subdir doesn't abort the walk
		}
		if path == root || !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}

// walkExisting delivers Create for every file already present so the
// initial state of the tree is observed the same way a later change would
// be (spec §4.4).
func (w *Watcher) walkExisting(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr
		}
		if path == root {
			return nil
		}
		if !w.recursive && d.IsDir() {
			return filepath.SkipDir
		}
		if w.filter != nil && !w.filter(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && w.handlers.Create != nil {
			w.handlers.Create(path)
		}
		return nil
	})
}

// Close stops the watcher and releases its underlying resources.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.WarnLog("watch %s: %v", w.root, err)
			// Watcher-level errors are downgraded to warnings per spec §7;
			// the caller learns about watch loss through Delete(root).
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	info, statErr := os.Lstat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if w.filter != nil && !w.filter(ev.Name, isDir) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir && w.recursive {
			_ = w.fsw.Add(ev.Name)
			w.walkExisting(ev.Name)
			return
		}
		if w.handlers.Create != nil {
			w.handlers.Create(ev.Name)
		}
	case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		if w.handlers.Modify != nil {
			w.handlers.Modify(ev.Name)
		}
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if w.handlers.Delete != nil {
			w.handlers.Delete(ev.Name)
		}
	}
}

// Walk performs the one-shot directory-walk fallback used when a watcher
// cannot be created at all (spec §4.1). It synchronously delivers Create
// for every qualifying file and returns.
func Walk(root string, filter Filter, create func(path string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		if filter != nil && !filter(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			create(path)
		}
		return nil
	})
}
