package lipsync

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader reloads models from a file.
type Loader interface {
	Load(path string) error
}

// Watcher reloads a model file whenever it is written or replaced.
//
// The directory is watched rather than the file so that atomic saves, which
// rename a temporary file over the model, are seen as a create.
type Watcher struct {
	watcher *fsnotify.Watcher
	loader  Loader
	path    string
	logger  zerolog.Logger

	mu       sync.Mutex
	onReload func(error)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching path and reloads it into loader on change.
func NewWatcher(loader Loader, path string, logger zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		watcher: watcher,
		loader:  loader,
		path:    abs,
		logger:  logger,
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.watchLoop()

	return w, nil
}

// OnReload registers a callback invoked after every reload attempt.
func (w *Watcher) OnReload(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Path returns the watched model file.
func (w *Watcher) Path() string {
	return w.path
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Model watcher error")
		}
	}
}

func (w *Watcher) reload() {
	err := w.loader.Load(w.path)
	if err != nil {
		// A partially written file fails as short; the next write retries.
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Model reload failed")
	} else {
		w.logger.Debug().Str("path", w.path).Msg("Model reloaded")
	}

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
