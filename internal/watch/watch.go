// Package watch keeps open keychains consistent with store files changed by
// other processes.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/keycache/internal/keychain"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Keychains resolves file names to open keychains.
type Keychains interface {
	Lookup(name string) (keychain.ID, error)
	IsOpen(id keychain.ID) (*keychain.Keychain, bool)
}

// Change reports what the watcher did about one keychain file.
type Change struct {
	Name    string
	Removed bool
	// Open is true if the keychain was open and has been purged or closed.
	Open bool
}

// Watcher reacts to writes and removals of keychain files in a directory.
type Watcher struct {
	dir       string
	keychains Keychains
	debounce  time.Duration
	onChange  func(Change)
	logger    *slog.Logger
	fs        *fsnotify.Watcher

	mu      sync.Mutex
	timers  map[string]*time.Timer
	removed map[string]bool
}

// Option configures a watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before the watcher acts.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithOnChange registers a callback run after each handled change.
func WithOnChange(fn func(Change)) Option {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// New starts watching dir.
func New(dir string, kcs Keychains, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		dir:       dir,
		keychains: kcs,
		debounce:  defaultDebounce,
		onChange:  func(Change) {},
		logger:    slog.With("component", "watch"),
		fs:        fw,
		timers:    make(map[string]*time.Timer),
		removed:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// keychainName maps a store file, or one of its sqlite sidecar files, to the
// keychain name. ok is false for unrelated files.
func keychainName(path string) (name string, ok bool) {
	base := filepath.Base(path)
	for _, suffix := range []string{".db-wal", ".db-shm", ".db-journal", ".db"} {
		if n, found := strings.CutSuffix(base, suffix); found && n != "" {
			return n, true
		}
	}
	return "", false
}

// Run handles file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	w.logger.Info("watching keychain directory for changes", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name, ok := keychainName(event.Name)
			if !ok {
				continue
			}
			// Only removing the store file itself closes the keychain.
			removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 &&
				filepath.Base(event.Name) == name+".db"
			w.logger.Debug("keychain file changed", "file", event.Name, "op", event.Op)
			w.schedule(name, removed)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

// schedule debounces events per keychain. A removal seen during the quiet
// period wins over writes.
func (w *Watcher) schedule(name string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if removed {
		w.removed[name] = true
	}
	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		rm := w.removed[name]
		delete(w.removed, name)
		delete(w.timers, name)
		w.mu.Unlock()
		w.handle(name, rm)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.timers {
		t.Stop()
		delete(w.timers, name)
	}
}

// handle purges the keychain's caches after an external write, or closes it
// when its file is gone.
func (w *Watcher) handle(name string, removed bool) {
	change := Change{Name: name, Removed: removed}
	defer func() { w.onChange(change) }()

	id, err := w.keychains.Lookup(name)
	if err != nil {
		return
	}
	kc, ok := w.keychains.IsOpen(id)
	if !ok {
		return
	}
	change.Open = true

	if removed {
		w.logger.Info("keychain file removed, closing", "keychain", id.String())
		if err := kc.Close(); err != nil {
			w.logger.Warn("close keychain failed", "keychain", id.String(), "error", err)
		}
		return
	}
	w.logger.Info("keychain changed on disk, dropping caches", "keychain", id.String())
	kc.InvalidateSchema()
	kc.Purge()
}
