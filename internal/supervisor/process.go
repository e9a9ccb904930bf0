package supervisor

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/toruai/steering-plugins/internal/errs"
	"github.com/toruai/steering-plugins/internal/store"
	"github.com/toruai/steering-plugins/internal/wire"
)

// spawn implements the spawn protocol of spec.md §4.4 steps 1-8. Failure at
// any step kills the child if running and returns a SpawnFailed error; the
// failure is also routed into handleCrash so it counts against the restart
// budget, matching the Starting -> Crashed transition.
func (s *Supervisor) spawn(pp *PluginProcess) error {
	pp.mu.Lock()
	if pp.state == StateRunning || pp.state == StateStarting {
		pp.mu.Unlock()
		return nil
	}
	pp.state = StateStarting
	pp.exitedCh = make(chan struct{})
	pp.mu.Unlock()

	os.Remove(pp.SocketPath)

	cmd := exec.Command(pp.BinaryPath)
	cmd.Env = append(os.Environ(),
		"TORU_PLUGIN_SOCKET="+pp.SocketPath,
		"TORU_PLUGIN_ID="+pp.ID,
		"TORU_INSTANCE_ID="+s.instanceID,
	)
	applyPdeathsig(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.spawnFailed(pp, "stderr pipe: "+err.Error())
	}

	if err := cmd.Start(); err != nil {
		return s.spawnFailed(pp, "start failed: "+err.Error())
	}

	pp.mu.Lock()
	pp.cmd = cmd
	pp.mu.Unlock()

	s.appendEvent(pp.ID, store.EventSpawned, "")

	if err := waitForSocket(pp.SocketPath, s.cfg.SpawnSocketDeadline); err != nil {
		_ = cmd.Process.Kill()
		return s.spawnFailed(pp, "socket did not appear: "+err.Error())
	}

	conn, err := net.DialTimeout("unix", pp.SocketPath, s.cfg.ConnectDeadline)
	if err != nil {
		_ = cmd.Process.Kill()
		return s.spawnFailed(pp, "dial failed: "+err.Error())
	}

	initEnv, err := wire.NewInitEnvelope(wire.InitPayload{
		InstanceID:   s.instanceID,
		PluginSocket: pp.SocketPath,
		LogPath:      filepath.Join(s.cfg.DataDir, pp.ID+".log"),
	})
	if err != nil {
		conn.Close()
		_ = cmd.Process.Kill()
		return s.spawnFailed(pp, "failed to build init frame: "+err.Error())
	}
	raw, err := wire.Encode(initEnv)
	if err != nil {
		conn.Close()
		_ = cmd.Process.Kill()
		return s.spawnFailed(pp, "failed to encode init frame: "+err.Error())
	}
	fw := wire.NewFrameWriter(conn, s.cfg.MaxFrameBytes)
	if err := fw.WriteFrame(raw); err != nil {
		conn.Close()
		_ = cmd.Process.Kill()
		return s.spawnFailed(pp, "init write failed: "+err.Error())
	}
	conn.Close()

	s.appendEvent(pp.ID, store.EventInitSent, "")

	pp.mu.Lock()
	pp.state = StateRunning
	pp.runningSince = time.Now()
	pp.lastError = ""
	wasRestart := pp.restartCount > 0
	pp.mu.Unlock()

	s.appendEvent(pp.ID, store.EventReady, "")
	if wasRestart {
		s.appendEvent(pp.ID, store.EventRestarted, "")
	}
	s.refreshPluginsRunning()

	s.wg.Add(2)
	go s.readStderr(pp, stderr)
	go s.watchExit(pp, cmd)
	s.startCooldownWatcher(pp)

	return nil
}

func (s *Supervisor) spawnFailed(pp *PluginProcess, reason string) error {
	pp.mu.Lock()
	pp.cmd = nil
	pp.lastError = reason
	pp.mu.Unlock()
	s.appendEvent(pp.ID, store.EventCrashed, reason)
	s.handleCrash(pp)
	return errs.New(errs.SpawnFailed, pp.ID, reason)
}

// handleCrash implements the Crashed -> BackingOff/Disabled transitions of
// spec.md §4.4. It is invoked both from a failed spawn and from the
// exit-watcher observing an unexpected child exit.
func (s *Supervisor) handleCrash(pp *PluginProcess) {
	pp.mu.Lock()
	if !pp.enabled {
		pp.state = StateStopped
		pp.mu.Unlock()
		s.refreshPluginsRunning()
		return
	}
	pp.restartCount++
	count := pp.restartCount
	pp.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RestartsTotal.WithLabelValues(pp.ID).Inc()
	}

	if count > s.cfg.MaxRestarts {
		pp.mu.Lock()
		pp.state = StateDisabled
		pp.enabled = false
		pp.mu.Unlock()
		if err := s.stateFile.SetEnabled(pp.ID, false); err != nil {
			s.logger.Warn("failed to persist auto-disable", "plugin", pp.ID, "error", err)
		}
		s.appendEvent(pp.ID, store.EventDisabledAuto, "")
		s.refreshPluginsRunning()
		return
	}

	pp.mu.Lock()
	pp.state = StateBackingOff
	pp.mu.Unlock()
	s.refreshPluginsRunning()

	delay := backoffDelay(count)
	s.appendEvent(pp.ID, store.EventRestartScheduled, delay.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(delay):
		case <-s.shutdownCtx.Done():
			return
		}
		pp.mu.Lock()
		stillEnabled := pp.enabled
		pp.mu.Unlock()
		if !stillEnabled {
			return
		}
		if err := s.spawn(pp); err != nil {
			s.logger.Warn("restart attempt failed", "plugin", pp.ID, "error", err)
		}
	}()
}

// startCooldownWatcher resets the restart counter once a plugin has stayed
// continuously Running for RestartCooldown (spec.md §4.4: "the count is
// reset only after the plugin has remained in Running continuously for a
// configurable cool-down").
func (s *Supervisor) startCooldownWatcher(pp *PluginProcess) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(s.cfg.RestartCooldown):
		case <-s.shutdownCtx.Done():
			return
		}
		pp.mu.Lock()
		if pp.state == StateRunning && time.Since(pp.runningSince) >= s.cfg.RestartCooldown {
			pp.restartCount = 0
		}
		pp.mu.Unlock()
	}()
}

// watchExit blocks until the child process exits, then routes the exit
// into normal-stop or crash handling depending on whether the plugin was
// still enabled at the moment it died.
func (s *Supervisor) watchExit(pp *PluginProcess, cmd *exec.Cmd) {
	defer s.wg.Done()
	_ = cmd.Wait()

	pp.mu.Lock()
	ch := pp.exitedCh
	pp.mu.Unlock()
	if ch != nil {
		close(ch)
	}

	pp.mu.Lock()
	wasEnabled := pp.enabled
	pp.cmd = nil
	if !wasEnabled {
		pp.state = StateStopped
		pp.mu.Unlock()
		s.refreshPluginsRunning()
		return
	}
	pp.mu.Unlock()

	s.appendEvent(pp.ID, store.EventCrashed, "process exited unexpectedly")
	s.handleCrash(pp)
}

// readStderr reads the child's standard error line by line, attempting to
// parse each line as a JSON log record and falling back to an info-level
// wrap of the raw line on parse failure (spec.md §4.4 step 7).
func (s *Supervisor) readStderr(pp *PluginProcess, stderr io.ReadCloser) {
	defer s.wg.Done()
	logger := hclog.New(&hclog.LoggerOptions{Name: "plugin." + pp.ID})
	sc := bufio.NewScanner(stderr)
	for sc.Scan() {
		line := sc.Text()
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err == nil {
			logger.Info("plugin log", "record", rec)
		} else {
			logger.Info(line)
		}
	}
}

// gracefulKill attempts a best-effort lifecycle/shutdown frame, then signals
// termination and waits up to ShutdownDeadline before force-terminating
// (spec.md §4.4 "Graceful kill").
func (s *Supervisor) gracefulKill(pp *PluginProcess, targetState State) error {
	pp.mu.Lock()
	cmd := pp.cmd
	sockPath := pp.SocketPath
	exitedCh := pp.exitedCh
	live := pp.state == StateRunning || pp.state == StateStarting
	pp.mu.Unlock()

	if !live || cmd == nil {
		pp.mu.Lock()
		pp.state = targetState
		pp.mu.Unlock()
		s.refreshPluginsRunning()
		return nil
	}

	if conn, err := net.DialTimeout("unix", sockPath, time.Second); err == nil {
		if env, buildErr := wire.NewShutdownEnvelope(); buildErr == nil {
			if raw, encErr := wire.Encode(env); encErr == nil {
				fw := wire.NewFrameWriter(conn, s.cfg.MaxFrameBytes)
				_ = fw.WriteFrame(raw)
			}
		}
		conn.Close()
	}
	s.appendEvent(pp.ID, store.EventShutdownSent, "")

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-exitedCh:
	case <-time.After(s.cfg.ShutdownDeadline):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		select {
		case <-exitedCh:
		case <-time.After(2 * time.Second):
		}
	}

	os.Remove(sockPath)

	pp.mu.Lock()
	pp.state = targetState
	pp.mu.Unlock()
	s.refreshPluginsRunning()

	s.appendEvent(pp.ID, store.EventKilled, "")
	return nil
}

// waitForSocket polls at 50ms intervals until path exists or deadline elapses.
func waitForSocket(path string, deadline time.Duration) error {
	until := time.Now().Add(deadline)
	for time.Now().Before(until) {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return errors.New("deadline exceeded waiting for socket")
}
