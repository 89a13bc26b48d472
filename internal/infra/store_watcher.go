package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce collapses bursts of store writes into one callback.
const DefaultWatchDebounce = 200 * time.Millisecond

// StoreWatcher calls onChange when another process writes the store.
// Writes from this process trigger it too; callers must be idempotent.
type StoreWatcher struct {
	dir      string
	names    map[string]struct{}
	onChange func()
	debounce time.Duration
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	changed  chan struct{}
}

// NewStoreWatcher watches the store's backing files.
func NewStoreWatcher(store *Store, onChange func(), debounce time.Duration, logger *zap.Logger) (*StoreWatcher, error) {
	dir, names := store.WatchTargets()
	return newStoreWatcher(dir, names, onChange, debounce, logger)
}

func newStoreWatcher(dir string, names []string, onChange func(), debounce time.Duration, logger *zap.Logger) (*StoreWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: renames replace the files themselves
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch store directory %s: %w", dir, err)
	}

	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	return &StoreWatcher{
		dir:      dir,
		names:    set,
		onChange: onChange,
		debounce: debounce,
		logger:   logger,
		watcher:  watcher,
		changed:  make(chan struct{}, 1),
	}, nil
}

// Run blocks until ctx is done, then closes the watcher.
func (w *StoreWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.logger.Info("watching store", zap.String("dir", w.dir))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := w.names[filepath.Base(event.Name)]; !ok {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			w.logger.Debug("store change detected", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.trigger)

		case <-w.changed:
			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}

func (w *StoreWatcher) trigger() {
	select {
	case w.changed <- struct{}{}:
	default:
		// Already pending
	}
}
