package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithNoPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxConnections, cfg.MaxConnections)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestLoadReadsYAMLFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "data_dir: /tmp/custom\nmax_connections: 7\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom", cfg.DataDir)
	assert.Equal(t, 7, cfg.MaxConnections)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	t.Setenv("MCPCORE_MAX_CONNECTIONS", "9")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxConnections)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_connections: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
