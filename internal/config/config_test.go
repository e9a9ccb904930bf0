package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxRestarts)
	require.Equal(t, 60*time.Second, cfg.RestartCooldown)
	require.Equal(t, uint32(10*1024*1024), cfg.MaxFrameBytes)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_restarts: 3\nplugins_dir: /opt/plugins\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.MaxRestarts)
	require.Equal(t, "/opt/plugins", cfg.PluginsDir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_restarts: 3\n"), 0o644))

	t.Setenv("TORU_MAX_RESTARTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxRestarts)
}
