package outbreak

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"outbreakcast/monitoring"
)

// ModelWatcher evicts cached models whose artifact changes on disk, so a
// long-running server picks up retrained models without a restart.
type ModelWatcher struct {
	dir     string
	cache   *ModelCache
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

func NewModelWatcher(dir string, cache *ModelCache, logger *zap.Logger) (*ModelWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &ModelWatcher{
		dir:     dir,
		cache:   cache,
		watcher: w,
		logger:  logger,
	}, nil
}

// Run blocks until ctx is done or the watcher is closed.
func (mw *ModelWatcher) Run(ctx context.Context) error {
	defer mw.watcher.Close()
	mw.logger.Info("watching model directory", zap.String("dir", mw.dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return nil
			}
			mw.handleEvent(event)
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return nil
			}
			mw.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

func (mw *ModelWatcher) handleEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	key, ok := keyFromFilename(filepath.Base(event.Name))
	if !ok {
		return false
	}
	if mw.cache.Remove(key) {
		monitoring.ModelCacheInvalidations.WithLabelValues("watcher").Inc()
		mw.logger.Info("model evicted after artifact change",
			zap.String("key", key), zap.String("op", event.Op.String()))
	}
	return true
}
