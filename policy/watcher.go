package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hupe1980/reactmesh/logging"
)

// watchDebounce coalesces rapid editor write/rename bursts into one reload.
const watchDebounce = 100 * time.Millisecond

// Watcher hot-reloads a rule file into an Engine whenever the file changes
// on disk. A rejected file leaves the engine's active rule set untouched.
type Watcher struct {
	engine *Engine
	path   string
	logger logging.Logger
}

// NewWatcher creates a watcher binding a rule file path to an engine.
func NewWatcher(engine *Engine, path string, logger logging.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("policy: resolve rule file path: %w", err)
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Watcher{engine: engine, path: absPath, logger: logger}, nil
}

// Watch starts watching until the context is cancelled. The watch is placed
// on the containing directory since some platforms do not support watching
// a file directly.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: create file watcher: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("policy: watch directory %s: %w", dir, err)
	}

	go w.watchLoop(ctx, watcher)

	w.logger.Info("watching policy rule file", "path", w.path)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var debounce *time.Timer
	file := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				if err := w.engine.ReloadFile(w.path); err != nil {
					w.logger.Warn("policy hot reload failed", "path", w.path, "error", err)
					return
				}
				w.logger.Info("policy rule set hot reloaded", "path", w.path, "version", w.engine.RuleSet().Version)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watcher error", "error", err)
		}
	}
}
