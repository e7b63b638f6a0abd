package manifest

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the manifest provider when the manifest file changes.
type Watcher struct {
	provider *Provider
	watcher  *fsnotify.Watcher

	debounceMu sync.Mutex
	debounce   *time.Timer
	closed     bool
}

// NewWatcher creates a watcher bound to the provider's manifest file.
func NewWatcher(provider *Provider) *Watcher {
	return &Watcher{provider: provider}
}

// Start begins watching the manifest's directory. Watching the directory
// rather than the file survives editors that replace the file on save.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest: create watcher: %w", err)
	}
	w.watcher = watcher

	go w.loop()

	dir := filepath.Dir(w.provider.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("manifest: watch %s: %w", dir, err)
	}

	w.provider.logger.Info().Str("dir", dir).Msg("watching manifest")
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.provider.Path()) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.debouncedReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.provider.logger.Error().Err(err).Msg("manifest watcher error")
		}
	}
}

// debouncedReload reloads the manifest after a 100ms quiet period.
func (w *Watcher) debouncedReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.closed {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(100*time.Millisecond, func() {
		if err := w.provider.Reload(); err != nil {
			w.provider.logger.Warn().Err(err).Msg("failed to reload manifest")
		} else {
			w.provider.logger.Info().Msg("manifest reloaded")
		}
	})
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.debounceMu.Lock()
	w.closed = true
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounceMu.Unlock()

	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
