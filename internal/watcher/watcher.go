// Package watcher detects out-of-band changes to the local mirror.
// When a mirrored file is edited or deleted behind the engine's back,
// its manifest entry is flagged stale so the next sync re-downloads it.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Deyu-Zhang/canvas-ai/internal/store"
)

// DefaultDebounce is the window for coalescing rapid events on the
// same path. Editors typically emit several writes per save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the mirror root recursively and flags drifted
// entries in the manifest.
type Watcher struct {
	root     string
	store    store.Store
	debounce time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	done    chan struct{}
}

// New creates a Watcher over the mirror root. debounce <= 0 uses
// DefaultDebounce.
func New(root string, st store.Store, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     root,
		store:    st,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns after the watch is registered; the
// event loop runs until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.loop(ctx)
	w.logger.Info("mirror_watcher_started", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("mirror_watcher_error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	// The engine's own staged writes are not drift.
	if strings.HasPrefix(filepath.Base(event.Name), ".staging-") {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// New subdirectories need their own watch.
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("mirror_watch_add_failed", "path", event.Name, "error", err)
			}
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	w.schedule(ctx, filepath.ToSlash(rel))
}

// schedule arms (or re-arms) the per-path debounce timer.
func (w *Watcher) schedule(ctx context.Context, relPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if t, ok := w.pending[relPath]; ok {
		t.Stop()
	}
	w.pending[relPath] = time.AfterFunc(w.debounce, func() {
		w.flag(ctx, relPath)
	})
}

// flag marks the manifest entry for relPath stale. Paths without an
// entry (editor backups, stray files) are ignored.
func (w *Watcher) flag(ctx context.Context, relPath string) {
	w.mu.Lock()
	delete(w.pending, relPath)
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	matched, err := w.store.MarkStaleByPath(ctx, relPath)
	if err != nil {
		w.logger.Warn("mirror_drift_flag_failed", "path", relPath, "error", err)
		return
	}
	if matched {
		w.logger.Info("mirror_drift_detected", "path", relPath)
	}
}

// addRecursive watches root and every directory below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}
