package supervisor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/toruai/steering-plugins/internal/pluginmeta"
)

// dirWatcher supplements spec.md §4.4's initialize-time-only discovery with
// incremental re-discovery of newly-appeared plugin binaries, grounded on
// the teacher's loader.go fsnotify.Watcher + debounce idiom
// (handleFSEvent/processGRPCBinaryChange), adapted to trigger
// discoverAndRegister for the new binary rather than reloading a gRPC
// manifest.
type dirWatcher struct {
	sup     *Supervisor
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timers  map[string]*time.Timer
	done    chan struct{}
}

func newDirWatcher(sup *Supervisor) *dirWatcher {
	return &dirWatcher{sup: sup, timers: make(map[string]*time.Timer), done: make(chan struct{})}
}

func (d *dirWatcher) start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(d.sup.cfg.PluginsDir); err != nil {
		w.Close()
		return err
	}
	d.watcher = w

	d.sup.wg.Add(1)
	go func() {
		defer d.sup.wg.Done()
		d.loop()
	}()
	return nil
}

func (d *dirWatcher) stop() {
	close(d.done)
	if d.watcher != nil {
		d.watcher.Close()
	}
}

func (d *dirWatcher) loop() {
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(ev)
		case <-d.watcher.Errors:
		case <-d.done:
			return
		case <-d.sup.shutdownCtx.Done():
			return
		}
	}
}

func (d *dirWatcher) handleEvent(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, pluginmeta.BinarySuffix) {
		return
	}
	op := ev.Op
	d.mu.Lock()
	if t, ok := d.timers[ev.Name]; ok {
		t.Stop()
	}
	d.timers[ev.Name] = time.AfterFunc(500*time.Millisecond, func() {
		d.process(ev.Name, op)
	})
	d.mu.Unlock()
}

// process reacts to a debounced fsnotify event for one plugin binary path.
// Create/Write discover a not-yet-known binary (a no-op if it's already
// registered); Remove/Rename mark an already-known plugin unavailable,
// mirroring the teacher's loader.go Remove handling.
func (d *dirWatcher) process(path string, op fsnotify.Op) {
	name := filepath.Base(path)
	id := strings.TrimSuffix(name, pluginmeta.BinarySuffix)

	d.sup.mu.RLock()
	_, known := d.sup.plugins[id]
	d.sup.mu.RUnlock()

	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if !known {
			return
		}
		if err := d.sup.Disable(id); err != nil {
			d.sup.logger.Warn("hot-discovery: failed to disable plugin after binary removal", "plugin", id, "error", err)
		}
		return
	}

	if known {
		return
	}

	persisted, err := d.sup.stateFile.Load()
	if err != nil {
		d.sup.logger.Warn("hot-discovery: failed to load state", "error", err)
		return
	}
	d.sup.discoverAndRegister(context.Background(), path, persisted)
}
