package plans

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads a FileCatalog whenever its backing file changes. Editors
// and config deploys often write via rename, so the watcher observes the
// parent directory and debounces bursts of events into a single reload.
type Watcher struct {
	catalog  *FileCatalog
	watcher  *fsnotify.Watcher
	logger   *logrus.Logger
	debounce time.Duration
	onReload func(error)
}

// NewWatcher creates a watcher for the catalog's file. onReload, if not nil,
// is invoked after every reload attempt with its result.
func NewWatcher(catalog *FileCatalog, logger *logrus.Logger, onReload func(error)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(catalog.Path())); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch plan directory: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &Watcher{
		catalog:  catalog,
		watcher:  fsWatcher,
		logger:   logger,
		debounce: 250 * time.Millisecond,
		onReload: onReload,
	}, nil
}

// Run processes file events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	target := filepath.Clean(w.catalog.Path())
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithField("file", event.Name).Debug("plan file changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			err := w.catalog.Reload()
			if err != nil {
				w.logger.WithError(err).Warn("plan catalog reload failed, keeping previous plans")
			} else {
				w.logger.WithField("file", target).Info("plan catalog reloaded")
			}
			if w.onReload != nil {
				w.onReload(err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("plan watcher error")
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
