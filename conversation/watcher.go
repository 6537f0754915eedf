package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/amp-labs/denguebot/logger"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the bursts of events editors produce when saving.
const DefaultDebounce = 500 * time.Millisecond

// ErrNothingToWatch is returned when no document path is configured.
var ErrNothingToWatch = errors.New("no configuration files to watch")

// Watcher reloads when one of the watched files changes. Directories are
// watched rather than files so that rename-on-save editors are noticed.
type Watcher struct {
	files    map[string]bool
	dirs     []string
	reload   func(ctx context.Context) error
	debounce time.Duration
}

// NewWatcher watches paths and calls reload after changes settle for
// debounce. A debounce of zero selects DefaultDebounce.
func NewWatcher(paths []string, debounce time.Duration, reload func(ctx context.Context) error) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, ErrNothingToWatch
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		files:    make(map[string]bool, len(paths)),
		reload:   reload,
		debounce: debounce,
	}

	seen := make(map[string]bool)

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}

		w.files[abs] = true

		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}

	return w, nil
}

// Run watches until ctx is done. Reload failures are logged and the watch
// continues.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	defer func() {
		_ = fsw.Close()
	}()

	for _, dir := range w.dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	log := logger.Get(ctx)
	log.InfoContext(ctx, "Watching configuration files", "dirs", w.dirs)

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "Configuration watcher stopped")

			return nil

		case evt, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			if !w.relevant(evt) {
				continue
			}

			watchedChanges.Inc()
			log.DebugContext(ctx, "Configuration file changed", "file", evt.Name, "op", evt.Op.String())

			timer.Reset(w.debounce)

		case <-timer.C:
			if err := w.reload(ctx); err != nil {
				log.ErrorContext(ctx, "Automatic reload failed", "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			log.ErrorContext(ctx, "Configuration watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
		return false
	}

	abs, err := filepath.Abs(evt.Name)
	if err != nil {
		return false
	}

	return w.files[abs]
}
