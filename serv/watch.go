package serv

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the event bursts editors produce into one
// reload.
const watchDebounce = 500 * time.Millisecond

// configWatcher reloads the configuration when a descriptor file under
// one of the watched directories changes. A failed reload keeps the
// previous generation live.
type configWatcher struct {
	svc     *Service
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

// newConfigWatcher creates a watcher for the service's config directories.
func newConfigWatcher(s *Service) *configWatcher {
	return &configWatcher{svc: s, done: make(chan struct{})}
}

// start begins watching. Directories that cannot be watched are logged
// and skipped.
func (w *configWatcher) start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	watched := 0
	for _, dir := range w.svc.conf.Source.Directories {
		abs := w.svc.conf.AbsolutePath(dir)
		if err := fw.Add(abs); err != nil {
			w.svc.log.Warnw("cannot watch config directory", "dir", abs, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		fw.Close() //nolint:errcheck
		w.watcher = nil
		return nil
	}

	go w.loop()
	w.svc.log.Infow("config watcher started", "directories", watched)
	return nil
}

// loop consumes filesystem events until stop closes the watcher.
func (w *configWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevantChange(ev) {
				continue
			}
			w.svc.log.Debugw("config file changed", "file", ev.Name, "op", ev.Op.String())
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.svc.log.Warnw("config watcher error", "error", err)
		}
	}
}

// relevantChange filters for writes, creates, renames and removals of
// YAML files.
func relevantChange(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(ev.Name))
	return ext == ".yml" || ext == ".yaml"
}

// schedule arms (or re-arms) the debounce timer.
func (w *configWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.reload)
}

// reload publishes a fresh generation and re-registers dynamic routes.
func (w *configWatcher) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := w.svc.engine.Reload(ctx); err != nil {
		w.svc.log.Errorw("hot reload failed, previous generation stays live", "error", err)
		return
	}
	w.svc.RebuildRoutes()

	g := w.svc.engine.Registry.Generation()
	w.svc.log.Infow("configuration hot-reloaded",
		"generation", g.Number, "endpoints", len(g.Endpoints))
}

// stop shuts the watcher down and cancels any pending reload.
func (w *configWatcher) stop() {
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close() //nolint:errcheck

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}
