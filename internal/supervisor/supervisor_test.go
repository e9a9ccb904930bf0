package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/toruai/steering-plugins/internal/config"
	"github.com/toruai/steering-plugins/internal/metrics"
	"github.com/toruai/steering-plugins/internal/store"
)

var buildOnce sync.Once
var helloBinary, crashyBinary string
var buildErr error

// moduleRoot resolves the repository root from this test file's path.
func moduleRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(filepath.Dir(filepath.Dir(file)))
}

// buildFixturePlugins compiles the two reference plugin binaries used by
// these integration tests: examples/helloplugin (a well-behaved plugin)
// and examples/crashyplugin (a plugin that exits immediately after init,
// used to exercise crash/backoff/auto-disable).
func buildFixturePlugins(t *testing.T) (hello, crashy string) {
	t.Helper()
	buildOnce.Do(func() {
		root := moduleRoot()
		dir := filepath.Join(os.TempDir(), "toru-plugin-fixtures")
		_ = os.MkdirAll(dir, 0o755)

		hello = filepath.Join(dir, "hello.binary")
		cmd := exec.Command("go", "build", "-o", hello, "./examples/helloplugin")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = err
			t.Logf("build hello plugin failed: %s", out)
			return
		}

		crashy = filepath.Join(dir, "crashy.binary")
		cmd = exec.Command("go", "build", "-o", crashy, "./examples/crashyplugin")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = err
			t.Logf("build crashy plugin failed: %s", out)
			return
		}

		helloBinary, crashyBinary = hello, crashy
	})
	if buildErr != nil {
		t.Skipf("skipping: fixture plugin build failed: %v", buildErr)
	}
	return helloBinary, crashyBinary
}

func newTestSupervisor(t *testing.T, pluginsDir string, maxRestarts int, cooldown time.Duration) *Supervisor {
	t.Helper()
	sup, _ := newTestSupervisorWithMetrics(t, pluginsDir, maxRestarts, cooldown)
	return sup
}

// newTestSupervisorWithMetrics is newTestSupervisor plus access to the
// backing registry, for tests that assert on PluginsRunning/RestartsTotal.
func newTestSupervisorWithMetrics(t *testing.T, pluginsDir string, maxRestarts int, cooldown time.Duration) (*Supervisor, *prometheus.Registry) {
	t.Helper()
	dataDir := t.TempDir()
	sockDir := t.TempDir()

	st, err := store.Open(filepath.Join(dataDir, "core.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	stateFile := store.NewStateFile(dataDir)
	instanceID, err := store.LoadOrCreateInstanceID(dataDir)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.PluginsDir = pluginsDir
	cfg.SocketsDir = sockDir
	cfg.DataDir = dataDir
	cfg.MaxRestarts = maxRestarts
	cfg.RestartCooldown = cooldown
	cfg.SpawnSocketDeadline = 2 * time.Second
	cfg.ConnectDeadline = 2 * time.Second
	cfg.ShutdownDeadline = 2 * time.Second

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sup := New(cfg, st, stateFile, instanceID, nil, m)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	return sup, reg
}

// gatherMetric returns the first sample value for a counter/gauge metric
// family, matching on label values in order, or 0 if not found.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			switch {
			case m.Counter != nil:
				return m.Counter.GetValue()
			case m.Gauge != nil:
				return m.Gauge.GetValue()
			}
		}
	}
	return 0
}

func TestInitialize_EmptyPluginsDirectory(t *testing.T) {
	dir := t.TempDir()
	sup := newTestSupervisor(t, dir, 10, 60*time.Second)
	require.NoError(t, sup.Initialize(context.Background()))
	require.Empty(t, sup.List())
}

func TestInitialize_ValidPluginEnabled(t *testing.T) {
	hello, _ := buildFixturePlugins(t)
	pluginsDir := t.TempDir()
	copyFile(t, hello, filepath.Join(pluginsDir, "hello.binary"))

	sup := newTestSupervisor(t, pluginsDir, 10, 60*time.Second)
	require.NoError(t, sup.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		status, ok := sup.Get("hello")
		return ok && status.Running
	}, 5*time.Second, 50*time.Millisecond)

	status, ok := sup.Get("hello")
	require.True(t, ok)
	require.True(t, status.Enabled)
	require.Equal(t, HealthHealthy, status.Health)

	sockPath, err := sup.SocketPathFor("hello")
	require.NoError(t, err)
	require.FileExists(t, sockPath)

	events, err := sup.Events("hello", 1, 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, events)
}

func TestInitialize_InvalidMetadataSkipsPlugin(t *testing.T) {
	pluginsDir := t.TempDir()
	script := "#!/bin/sh\nif [ \"$1\" = \"--metadata\" ]; then printf '{\"id\":\"../evil\",\"route\":\"/evil\"}'; exit 0; fi\nexit 1\n"
	path := filepath.Join(pluginsDir, "evil.binary")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	sup := newTestSupervisor(t, pluginsDir, 10, 60*time.Second)
	require.NoError(t, sup.Initialize(context.Background()))
	require.Empty(t, sup.List())
}

func TestCrashAndRestart(t *testing.T) {
	hello, _ := buildFixturePlugins(t)
	pluginsDir := t.TempDir()
	copyFile(t, hello, filepath.Join(pluginsDir, "hello.binary"))

	sup, reg := newTestSupervisorWithMetrics(t, pluginsDir, 10, 60*time.Second)
	require.NoError(t, sup.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		status, ok := sup.Get("hello")
		return ok && status.Running
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, float64(1), gatherMetric(t, reg, "toru_plugins_running", nil))

	sup.mu.RLock()
	pp := sup.plugins["hello"]
	sup.mu.RUnlock()

	pp.mu.Lock()
	proc := pp.cmd.Process
	pp.mu.Unlock()
	require.NoError(t, proc.Kill())

	require.Eventually(t, func() bool {
		status, ok := sup.Get("hello")
		return ok && status.Running && status.RestartCount >= 1
	}, 10*time.Second, 50*time.Millisecond)

	require.GreaterOrEqual(t, gatherMetric(t, reg, "toru_plugins_restarts_total", map[string]string{"plugin_id": "hello"}), float64(1))
	require.Equal(t, float64(1), gatherMetric(t, reg, "toru_plugins_running", nil))
}

func TestAutoDisableAfterMaxRestarts(t *testing.T) {
	_, crashy := buildFixturePlugins(t)
	pluginsDir := t.TempDir()
	copyFile(t, crashy, filepath.Join(pluginsDir, "crashy.binary"))

	sup, reg := newTestSupervisorWithMetrics(t, pluginsDir, 1, 60*time.Second)
	require.NoError(t, sup.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		status, ok := sup.Get("crashy")
		return ok && status.State == StateDisabled
	}, 15*time.Second, 100*time.Millisecond)

	status, ok := sup.Get("crashy")
	require.True(t, ok)
	require.False(t, status.Enabled)

	require.GreaterOrEqual(t, gatherMetric(t, reg, "toru_plugins_restarts_total", map[string]string{"plugin_id": "crashy"}), float64(1))
	require.Equal(t, float64(0), gatherMetric(t, reg, "toru_plugins_running", nil))
}

func TestEnableDisable_Idempotent(t *testing.T) {
	hello, _ := buildFixturePlugins(t)
	pluginsDir := t.TempDir()
	copyFile(t, hello, filepath.Join(pluginsDir, "hello.binary"))

	sup := newTestSupervisor(t, pluginsDir, 10, 60*time.Second)
	require.NoError(t, sup.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		status, ok := sup.Get("hello")
		return ok && status.Running
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, sup.Disable("hello"))
	status, ok := sup.Get("hello")
	require.True(t, ok)
	require.False(t, status.Enabled)

	// disable again is a no-op
	require.NoError(t, sup.Disable("hello"))
	status, ok = sup.Get("hello")
	require.True(t, ok)
	require.False(t, status.Enabled)

	require.NoError(t, sup.Enable("hello"))
	require.Eventually(t, func() bool {
		status, ok := sup.Get("hello")
		return ok && status.Running && status.Enabled
	}, 5*time.Second, 50*time.Millisecond)
}

// TestHotDiscovery_RemoveDisablesPlugin exercises watch.go's fsnotify.Remove
// handling: a plugin discovered at Initialize time, whose binary is then
// deleted from PluginsDir, must be disabled rather than left registered
// pointing at a binary that no longer exists.
func TestHotDiscovery_RemoveDisablesPlugin(t *testing.T) {
	hello, _ := buildFixturePlugins(t)
	pluginsDir := t.TempDir()
	binaryPath := filepath.Join(pluginsDir, "hello.binary")
	copyFile(t, hello, binaryPath)

	dataDir := t.TempDir()
	st, err := store.Open(filepath.Join(dataDir, "core.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	stateFile := store.NewStateFile(dataDir)
	instanceID, err := store.LoadOrCreateInstanceID(dataDir)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.PluginsDir = pluginsDir
	cfg.SocketsDir = t.TempDir()
	cfg.DataDir = dataDir
	cfg.MaxRestarts = 10
	cfg.RestartCooldown = 60 * time.Second
	cfg.SpawnSocketDeadline = 2 * time.Second
	cfg.ConnectDeadline = 2 * time.Second
	cfg.ShutdownDeadline = 2 * time.Second
	cfg.WatchPluginsDir = true

	m := metrics.New(prometheus.NewRegistry())
	sup := New(cfg, st, stateFile, instanceID, nil, m)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	require.NoError(t, sup.Initialize(context.Background()))

	require.Eventually(t, func() bool {
		status, ok := sup.Get("hello")
		return ok && status.Running
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(binaryPath))

	require.Eventually(t, func() bool {
		status, ok := sup.Get("hello")
		return ok && !status.Enabled && !status.Running
	}, 5*time.Second, 50*time.Millisecond)
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o755))
}
