// Package watch reloads state files when another program edits them.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc re-reads one file.
type ReloadFunc func() error

// Watcher calls a file's ReloadFunc after it was written, created or
// renamed into place inside the watched directory.
type Watcher struct {
	dir      string
	handlers map[string]ReloadFunc
	debounce time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a watcher for dir. Register files with Handle before Start.
func New(dir string, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		handlers: make(map[string]ReloadFunc),
		debounce: DefaultDebounce,
		log:      log,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Handle registers reload for the file at path, which must live in the
// watched directory.
func (w *Watcher) Handle(path string, reload ReloadFunc) {
	w.handlers[filepath.Base(path)] = reload
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching. It returns once the watch is registered; events
// are processed until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("create watched dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.loop(ctx, watcher)
	w.log.Info("watching state files", "dir", w.dir, "files", len(w.handlers))
	return nil
}

// Stop ends the watch and cancels pending reloads.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		for name, t := range w.timers {
			t.Stop()
			delete(w.timers, name)
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			if _, ok := w.handlers[name]; ok {
				w.schedule(name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[name]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, name)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		if err := w.handlers[name](); err != nil {
			w.log.Error("failed to reload changed file", "file", name, "error", err)
			return
		}
		w.log.Info("reloaded changed file", "file", name)
	})
}
