// Package workspace tracks the files an external worker produces inside its
// session workspace directory. Discovery is poll-based: the runner calls
// Scan on every supervision tick. A best-effort fsnotify watcher lets Scan
// skip the filesystem walk on quiet ticks; the walk itself stays the source
// of truth, so a lost or late notification only delays discovery by one
// poll interval.
package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Tracker watches one session workspace for new files.
type Tracker struct {
	dir string

	mu    sync.Mutex
	known map[string]bool

	watcher  *fsnotify.Watcher
	dirty    atomic.Bool
	scanned  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// NewTracker creates a tracker for the given directory, creating it if
// needed. The fsnotify watcher is optional: if it cannot be established the
// tracker silently degrades to walking on every Scan.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	t := &Tracker{
		dir:   dir,
		known: make(map[string]bool),
		done:  make(chan struct{}),
	}
	t.dirty.Store(true)

	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(dir); err == nil {
			t.watcher = watcher
			go t.watch()
		} else {
			_ = watcher.Close()
		}
	}

	return t, nil
}

// watch marks the tracker dirty whenever any filesystem event arrives.
// Event kinds are irrelevant: the next Scan re-walks and decides.
func (t *Tracker) watch() {
	for {
		select {
		case <-t.done:
			return
		case _, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.dirty.Store(true)
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.dirty.Store(true)
		}
	}
}

// isInternal reports whether a workspace file is bookkeeping rather than a
// session artifact: log files and the state snapshot are never reported.
func isInternal(name string) bool {
	return strings.HasSuffix(name, ".log") ||
		name == "session_state.json" ||
		strings.HasSuffix(name, ".tmp")
}

// Scan walks the workspace and returns the relative paths of files not seen
// by any earlier Scan, sorted for deterministic ordering. When the watcher
// is active and no events arrived since the previous walk, the walk is
// skipped and Scan returns nothing.
func (t *Tracker) Scan() ([]string, error) {
	if t.watcher != nil && t.scanned.Load() && !t.dirty.Swap(false) {
		return nil, nil
	}

	var found []string
	err := filepath.WalkDir(t.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A file observed mid-write or removed mid-walk is tolerated;
			// the next tick rescans.
			return nil
		}
		if d.IsDir() {
			if t.watcher != nil && path != t.dir {
				_ = t.watcher.Add(path) // new subdirectories get watched too
			}
			return nil
		}
		if isInternal(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(t.dir, path)
		if err != nil {
			return nil
		}
		found = append(found, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.scanned.Store(true)

	t.mu.Lock()
	defer t.mu.Unlock()

	var fresh []string
	for _, rel := range found {
		if !t.known[rel] {
			t.known[rel] = true
			fresh = append(fresh, rel)
		}
	}
	sort.Strings(fresh)
	return fresh, nil
}

// Files returns every file discovered so far, sorted.
func (t *Tracker) Files() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.known))
	for rel := range t.known {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Dir returns the tracked workspace directory.
func (t *Tracker) Dir() string {
	return t.dir
}

// Close stops the watcher. Safe to call more than once.
func (t *Tracker) Close() error {
	var err error
	t.doneOnce.Do(func() {
		close(t.done)
		if t.watcher != nil {
			err = t.watcher.Close()
		}
	})
	return err
}
