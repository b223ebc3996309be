// Package watch reloads the window when a static bundle changes on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of writes (a rebuild touches many files)
const DefaultDebounce = 500 * time.Millisecond

// BundleWatcher calls OnChange once per burst of changes under a directory
type BundleWatcher struct {
	dir      string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
}

// New watches dir and every directory below it
func New(dir string, debounce time.Duration, onChange func(), logger *slog.Logger) (*BundleWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create bundle watcher: %w", err)
	}

	w := &BundleWatcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logger.With("component", "watch"),
		watcher:  watcher,
	}
	if err := w.addTree(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	return w, nil
}

func (w *BundleWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers debounced change notifications until ctx is done
func (w *BundleWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var mu sync.Mutex
	var timer *time.Timer
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	w.logger.Debug("Watching static bundle", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("Failed to watch new directory", "dir", event.Name, "error", err)
					}
				}
			}

			w.logger.Debug("Bundle changed", "path", event.Name, "op", event.Op.String())
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.logger.Info("Static bundle changed, reloading window")
				w.onChange()
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Bundle watcher error", "error", err)
		}
	}
}
