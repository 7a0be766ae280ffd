package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/iKryptonic/RBXStateMachine/internal/async"
	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads Settings from disk on every write to its config file
// and hands the fresh value to onChange, debounced so a burst of
// filesystem events (editors that write-then-rename) produces one
// reload instead of several.
type Watcher struct {
	path     string
	logger   logging.Logger
	debounce time.Duration
	onChange func(*Settings)

	mu      sync.Mutex
	timer   *time.Timer
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
}

// NewWatcher starts watching path for changes; onChange is invoked
// (from a background goroutine) with the freshly reloaded Settings
// after each debounced write event. Reload errors are logged and
// otherwise ignored, leaving the previous in-memory Settings in place.
func NewWatcher(path string, logger logging.Logger, onChange func(*Settings)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		logger:   logging.OrNop(logger),
		debounce: defaultWatchDebounce,
		onChange: onChange,
		watcher:  fw,
		stop:     make(chan struct{}),
	}
	async.Go(watcherPanicLogger{w.logger}, "config.watcher", w.run)
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				if err := w.watcher.Add(w.path); err != nil {
					w.logger.Warn("config: re-watch of %q failed: %v", w.path, err)
				}
				w.scheduleReload()
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watcher error for %q: %v", w.path, err)
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	settings, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config: reload of %q failed: %v", w.path, err)
		return
	}
	w.onChange(settings)
}

// Close stops the watcher and releases its filesystem handle.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.stop) })
	return w.watcher.Close()
}

type watcherPanicLogger struct{ l logging.Logger }

func (p watcherPanicLogger) Error(format string, args ...any) { p.l.Error(format, args...) }
