package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/getmockd/mockcore/pkg/logging"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Runtime when its configuration document or any included
// file changes. A failed reload is logged and the previous configuration
// stays in effect.
type Watcher struct {
	watcher  *fsnotify.Watcher
	runtime  *Runtime
	path     string
	log      *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	files     map[string]bool
	dirs      map[string]bool
	callbacks []func(*Document, error)
	timer     *time.Timer
}

// NewWatcher creates a watcher for the document rt was built from.
func NewWatcher(rt *Runtime, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		runtime:  rt,
		path:     rt.Document().Path,
		log:      logging.Component(log, "watcher"),
		debounce: DefaultDebounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]bool),
	}, nil
}

// SetDebounce sets the debounce duration for file changes.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// OnReload registers a callback run after every reload attempt with the
// applied document, or with the error that kept it from applying.
func (w *Watcher) OnReload(cb func(*Document, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()
	if err := w.track(w.runtime.Document().Files); err != nil {
		return err
	}
	w.log.Info("watching configuration", "path", w.path)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.schedule(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("config watcher error", "error", err)
		}
	}
}

// track watches the directories of files. Directories are watched rather
// than files so editors that replace files on save are still observed.
func (w *Watcher) track(files []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = make(map[string]bool, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = true
	}
	return nil
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[abs] {
		return true
	}
	// a new file may match an include glob
	switch filepath.Ext(abs) {
	case ".yaml", ".yml", ".json":
		return event.Has(fsnotify.Create) && w.dirs[filepath.Dir(abs)]
	}
	return false
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	err := w.runtime.Reload(w.path)
	doc := w.runtime.Document()
	if err != nil {
		w.log.Error("failed to reload config, keeping previous", "path", w.path, "error", err)
	} else {
		w.log.Info("configuration reloaded", "path", w.path, "files", len(doc.Files))
		if terr := w.track(doc.Files); terr != nil {
			w.log.Warn("failed to watch included files", "error", terr)
		}
	}

	w.mu.Lock()
	callbacks := append(([]func(*Document, error))(nil), w.callbacks...)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(doc, err)
	}
}
