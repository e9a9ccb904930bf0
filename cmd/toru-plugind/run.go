package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toruai/steering-plugins/internal/config"
	"github.com/toruai/steering-plugins/internal/httpapi"
	"github.com/toruai/steering-plugins/internal/metrics"
	"github.com/toruai/steering-plugins/internal/router"
	"github.com/toruai/steering-plugins/internal/store"
	"github.com/toruai/steering-plugins/internal/supervisor"
)

// run wires config -> store -> supervisor -> router -> httpapi and blocks
// until an OS signal requests shutdown.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	st, err := store.Open(filepath.Join(cfg.DataDir, "core.db"), m)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	stateFile := store.NewStateFile(filepath.Join(cfg.PluginsDir, ".metadata"))
	instanceID, err := store.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load instance id: %w", err)
	}
	logger.Info("starting toru-plugind", "instance_id", instanceID, "plugins_dir", cfg.PluginsDir)

	sup := supervisor.New(cfg, st, stateFile, instanceID, logger, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize supervisor: %w", err)
	}

	rt := router.New(sup, cfg.MaxFrameBytes, cfg.ConnectDeadline, cfg.ForwardDeadline, m)
	api := httpapi.New(sup, rt, logger, registry)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Handler(),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info("management API listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-serveErrCh:
		logger.Error("management API server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("management API shutdown error", "error", err)
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("supervisor shutdown error", "error", err)
	}
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
