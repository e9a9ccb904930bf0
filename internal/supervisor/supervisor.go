package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/toruai/steering-plugins/internal/config"
	"github.com/toruai/steering-plugins/internal/errs"
	"github.com/toruai/steering-plugins/internal/metrics"
	"github.com/toruai/steering-plugins/internal/pluginmeta"
	"github.com/toruai/steering-plugins/internal/store"
)

// Supervisor owns the full table of PluginProcess entries (spec.md §3,
// §4.4). Reads (List/Get/RouteFor/Health) take a read lock; mutations
// (spawn/kill/enable/disable/crash transitions) take a write lock, so that
// state transitions for a given plugin id are totally ordered (spec.md
// §5).
type Supervisor struct {
	mu      sync.RWMutex
	plugins map[string]*PluginProcess

	cfg        config.Config
	store      *store.Store
	stateFile  *store.StateFile
	instanceID string
	logger     *slog.Logger
	broker     *Broker
	metrics    *metrics.Metrics

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	wg             sync.WaitGroup

	watcher *dirWatcher
}

// New constructs a Supervisor. Call Initialize before serving any traffic.
func New(cfg config.Config, st *store.Store, stateFile *store.StateFile, instanceID string, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		plugins:        make(map[string]*PluginProcess),
		cfg:            cfg,
		store:          st,
		stateFile:      stateFile,
		instanceID:     instanceID,
		logger:         logger,
		broker:         NewBroker(),
		metrics:        m,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
}

// Broker exposes the live event broadcaster for the management API's SSE endpoint.
func (s *Supervisor) Broker() *Broker { return s.broker }

// Initialize ensures the sockets directory exists, reads persisted
// enabled-state, discovers binaries under PluginsDir, loads metadata for
// each, and spawns every plugin marked enabled. Individual failures never
// abort initialization (spec.md §4.4).
func (s *Supervisor) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.SocketsDir, 0o755); err != nil {
		return errs.Wrap(errs.Fatal, "", "cannot create sockets directory", err)
	}
	if err := os.MkdirAll(s.cfg.PluginsDir, 0o755); err != nil {
		return errs.Wrap(errs.Fatal, "", "cannot create plugins directory", err)
	}

	persisted, err := s.stateFile.Load()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(s.cfg.PluginsDir)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", "cannot read plugins directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pluginmeta.BinarySuffix) {
			continue
		}
		binaryPath := filepath.Join(s.cfg.PluginsDir, entry.Name())
		s.discoverAndRegister(ctx, binaryPath, persisted)
	}

	if s.cfg.WatchPluginsDir {
		s.watcher = newDirWatcher(s)
		if err := s.watcher.start(); err != nil {
			s.logger.Warn("hot-discovery watch failed to start", "error", err)
		}
	}

	return nil
}

// discoverAndRegister loads metadata for one binary and, if valid, registers
// it and spawns it when persisted state marks it enabled (or it is new,
// default-enabled, matching spec.md §8 scenario 2's persisted-enabled flow).
func (s *Supervisor) discoverAndRegister(ctx context.Context, binaryPath string, persisted store.PersistentState) {
	meta, err := pluginmeta.Load(ctx, binaryPath)
	if err != nil {
		s.logger.Warn("plugin discovery failed", "binary", binaryPath, "error", err)
		if s.metrics != nil {
			s.metrics.DiscoveryFailure.WithLabelValues(string(errs.BadPlugin)).Inc()
		}
		return
	}

	enabled, known := persisted.Plugins[meta.ID]
	if !known {
		enabled = true
	}

	pp := &PluginProcess{
		ID:         meta.ID,
		BinaryPath: binaryPath,
		SocketPath: filepath.Join(s.cfg.SocketsDir, meta.ID+".sock"),
		Metadata:   meta,
		state:      StateStopped,
		enabled:    enabled,
	}

	s.mu.Lock()
	s.plugins[meta.ID] = pp
	s.mu.Unlock()

	s.appendEvent(meta.ID, store.EventDiscovered, "")

	if enabled {
		if err := s.spawn(pp); err != nil {
			s.logger.Warn("initial spawn failed", "plugin", meta.ID, "error", err)
		}
	}
}

// List returns a status snapshot for every known plugin.
func (s *Supervisor) List() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.plugins))
	for _, pp := range s.plugins {
		out = append(out, pp.snapshot(s.health(pp)))
	}
	return out
}

// Get returns the status of a single plugin.
func (s *Supervisor) Get(id string) (Status, bool) {
	s.mu.RLock()
	pp, ok := s.plugins[id]
	s.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return pp.snapshot(s.health(pp)), true
}

// RouteFor maps a path segment to an enabled, running plugin id whose route
// equals "/<segment>" (spec.md §4.4).
func (s *Supervisor) RouteFor(segment string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := "/" + segment
	for id, pp := range s.plugins {
		pp.mu.Lock()
		match := pp.enabled && pp.state == StateRunning && pp.Metadata.Route == want
		pp.mu.Unlock()
		if match {
			return id, true
		}
	}
	return "", false
}

// SocketPathFor returns the live socket path for id, used by the router to
// open a fresh connection per forward (spec.md §4.5).
func (s *Supervisor) SocketPathFor(id string) (string, error) {
	s.mu.RLock()
	pp, ok := s.plugins[id]
	s.mu.RUnlock()
	if !ok {
		return "", errs.New(errs.PluginUnavailable, id, "no such plugin")
	}
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if !pp.enabled || pp.state != StateRunning {
		return "", errs.New(errs.PluginUnavailable, id, "plugin is not running")
	}
	return pp.SocketPath, nil
}

// Enable marks id enabled in persistent state and spawns it if not already running.
func (s *Supervisor) Enable(id string) error {
	s.mu.Lock()
	pp, ok := s.plugins[id]
	s.mu.Unlock()
	if !ok {
		return errs.New(errs.PluginUnavailable, id, "no such plugin")
	}

	if err := s.stateFile.SetEnabled(id, true); err != nil {
		return err
	}

	pp.mu.Lock()
	pp.enabled = true
	pp.restartCount = 0
	alreadyRunning := pp.state == StateRunning || pp.state == StateStarting
	pp.mu.Unlock()

	s.appendEvent(id, store.EventEnabled, "")

	if !alreadyRunning {
		return s.spawn(pp)
	}
	return nil
}

// Disable marks id disabled in persistent state and gracefully kills any live process.
func (s *Supervisor) Disable(id string) error {
	s.mu.Lock()
	pp, ok := s.plugins[id]
	s.mu.Unlock()
	if !ok {
		return errs.New(errs.PluginUnavailable, id, "no such plugin")
	}

	if err := s.stateFile.SetEnabled(id, false); err != nil {
		return err
	}

	pp.mu.Lock()
	pp.enabled = false
	pp.mu.Unlock()

	s.appendEvent(id, store.EventDisabled, "")
	return s.gracefulKill(pp, StateStopped)
}

// KVGet/KVSet/KVDelete delegate directly to the store (spec.md §4.4: "direct
// delegation to C3"), independent of whether the plugin process is
// currently running.
func (s *Supervisor) KVGet(id, key string) (string, bool, error) {
	return s.store.KVGet(id, key)
}

func (s *Supervisor) KVSet(id, key, value string) error {
	return s.store.KVSet(id, key, value)
}

func (s *Supervisor) KVDelete(id, key string) error {
	return s.store.KVDelete(id, key)
}

// Events returns the paginated event log for id (management API "get logs").
func (s *Supervisor) Events(id string, page, pageSize int, eventType store.EventType) ([]store.Event, error) {
	return s.store.EventsByPlugin(id, page, pageSize, eventType)
}

// Shutdown gracefully kills every live plugin process concurrently, used
// on core shutdown (spec.md §4.4, §5).
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.stop()
	}
	s.shutdownCancel()

	s.mu.RLock()
	procs := make([]*PluginProcess, 0, len(s.plugins))
	for _, pp := range s.plugins {
		procs = append(procs, pp)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, pp := range procs {
		pp := pp
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.gracefulKill(pp, StateStopped)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.wg.Wait()
	return nil
}

// refreshPluginsRunning recomputes the live running-plugin count from the
// process table and sets the PluginsRunning gauge from it, rather than
// incrementing/decrementing at each call site, so a missed transition can
// never leave the gauge drifted from reality. Call after any transition
// that can change a plugin's State (spawn, crash, graceful kill).
func (s *Supervisor) refreshPluginsRunning() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	procs := make([]*PluginProcess, 0, len(s.plugins))
	for _, pp := range s.plugins {
		procs = append(procs, pp)
	}
	s.mu.RUnlock()

	running := 0
	for _, pp := range procs {
		pp.mu.Lock()
		if pp.state == StateRunning {
			running++
		}
		pp.mu.Unlock()
	}
	s.metrics.PluginsRunning.Set(float64(running))
}

func (s *Supervisor) appendEvent(pluginID string, eventType store.EventType, details string) {
	if err := s.store.AppendEvent(pluginID, eventType, details); err != nil {
		s.logger.Warn("event log append failed", "plugin", pluginID, "event", eventType, "error", err)
	}
	s.broker.Publish(EventBroadcast{PluginID: pluginID, Type: string(eventType), Details: details})
}
