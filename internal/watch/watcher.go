// Package watch turns filesystem activity into analysis submissions. It
// watches the workspace tree recursively, debounces rapid saves so editors
// that write in bursts produce one submission, and surfaces version-control
// activity as its own event.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"omnidev/internal/bus"
	"omnidev/internal/logging"
	"omnidev/internal/types"
)

// SubmitFunc receives a settled file change with its current content and the
// wall-clock time the last write was observed.
type SubmitFunc func(path string, content []byte, observed time.Time) error

// Directories never worth watching.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".omnidev":     true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"__pycache__":  true,
	".venv":        true,
}

// Watcher monitors the workspace for source file changes.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	bus         *bus.Bus
	root        string
	extensions  map[string]bool
	submit      SubmitFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// Stats tracks watcher activity for status reporting and debugging.
type Stats struct {
	EventsSeen    int
	Submitted     int
	VCSActivity   int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// New creates a watcher over the workspace root. extensions lists the source
// suffixes to watch (".go", ".py", ...); settled changes are handed to
// submit.
func New(root string, extensions []string, debounce time.Duration, b *bus.Bus, submit SubmitFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = true
	}

	return &Watcher{
		watcher:     fw,
		bus:         b,
		root:        root,
		extensions:  extSet,
		submit:      submit,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start registers the workspace tree and launches the event loop.
// Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		logging.Get(logging.CategoryWatch).Warn("initial tree walk incomplete: %v", err)
	}

	// .git is skipped by the tree walk, but HEAD moves are worth knowing
	// about: branch switches and commits shift what the assistant should
	// pay attention to.
	gitDir := filepath.Join(w.root, ".git")
	if _, err := os.Stat(gitDir); err == nil {
		if err := w.watcher.Add(gitDir); err != nil {
			logging.WatchDebug("cannot watch .git: %v", err)
		}
	}

	logging.Watch("watching %s (%d dirs, debounce %s)", w.root, len(w.watcher.WatchList()), w.debounceDur)
	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("stopped")
}

// addTree registers root and every non-skipped subdirectory.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entries are not fatal
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (skipDirs[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			logging.WatchDebug("cannot watch %s: %v", path, err)
		}
		return nil
	})
}

// run is the main event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(50 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.flushSettled()
		}
	}
}

// handleEvent routes a single filesystem event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return // Ignore chmod and remove
	}

	// New directories join the watch so nested saves are seen.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			name := filepath.Base(event.Name)
			if !skipDirs[name] && !strings.HasPrefix(name, ".") {
				if err := w.addTree(event.Name); err == nil {
					logging.WatchDebug("now watching %s", event.Name)
				}
			}
			return
		}
	}

	if w.isVCSEvent(event.Name) {
		logging.Watch("vcs activity: %s", filepath.Base(event.Name))
		w.mu.Lock()
		w.stats.VCSActivity++
		w.mu.Unlock()
		w.bus.PublishFrom("watch", types.EventVCSActivity, event.Name)
		return
	}

	if !w.extensions[filepath.Ext(event.Name)] {
		return
	}

	logging.WatchDebug("%s: %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// isVCSEvent reports whether the path is version-control metadata worth
// announcing. Only ref moves qualify; lock files and object writes are
// noise.
func (w *Watcher) isVCSEvent(path string) bool {
	if !strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator)) &&
		filepath.Base(filepath.Dir(path)) != ".git" {
		return false
	}
	base := filepath.Base(path)
	return base == "HEAD" || base == "ORIG_HEAD" || base == "MERGE_HEAD"
}

// flushSettled submits files whose last write is past the debounce window.
func (w *Watcher) flushSettled() {
	w.mu.Lock()
	now := time.Now()
	type settled struct {
		path string
		ts   time.Time
	}
	var toSubmit []settled
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			toSubmit = append(toSubmit, settled{path, eventTime})
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, s := range toSubmit {
		content, err := os.ReadFile(s.path)
		if err != nil {
			if os.IsNotExist(err) {
				logging.WatchDebug("file gone before submission: %s", s.path)
				continue
			}
			logging.Get(logging.CategoryWatch).Error("read failed for %s: %v", s.path, err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			continue
		}

		if err := w.submit(s.path, content, s.ts); err != nil {
			// Rate limiting and full queues are expected backpressure,
			// not watcher failures.
			logging.WatchDebug("submission declined for %s: %v", s.path, err)
			continue
		}

		w.mu.Lock()
		w.stats.Submitted++
		w.mu.Unlock()
	}
}

// GetStats returns a copy of the current counters.
func (w *Watcher) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
