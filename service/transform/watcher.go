package transform

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tweag/asset-relay/internal/logging"
)

// Watcher keeps the index of a Cache in sync with the cache directory.
// Derived files may be deleted by retention jobs running outside of this process;
// their index entries are dropped so the next request rebuilds them.
type Watcher struct {
	cache         *Cache
	notifyWatcher *fsnotify.Watcher
	closeOnce     sync.Once
}

// NewWatcher creates a Watcher for the given cache.
func NewWatcher(cache *Cache) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{cache: cache, notifyWatcher: watcher}, nil
}

// Start starts the Watcher.
func (w *Watcher) Start(ctx context.Context, wg *sync.WaitGroup) error {
	dir, err := filepath.Abs(w.cache.Dir())
	if err != nil {
		return err
	}
	logging.Basicf("Starting watcher for cache directory %s", dir)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer w.Stop()
		defer logging.Basicf("Stopped cache watcher")
		for {
			select {
			case event, ok := <-w.notifyWatcher.Events:
				if !ok {
					return
				}
				if (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && filepath.Dir(event.Name) == dir {
					w.cache.forget(filepath.Base(event.Name))
				}
			case err, ok := <-w.notifyWatcher.Errors:
				if !ok {
					return
				}
				logging.Errorf("cache watcher encountered error: %v", err)
			case <-ctx.Done():
				return // context cancelled, call stop in defer
			}
		}
	}()

	if err := w.notifyWatcher.Add(dir); err != nil {
		return err
	}
	return nil
}

// Stop stops the Watcher.
func (w *Watcher) Stop() (closeErr error) {
	w.closeOnce.Do(func() {
		closeErr = w.notifyWatcher.Close()
	})
	return closeErr
}
