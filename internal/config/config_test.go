// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("ARCADE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arcade.yaml")
	content := "lobby_port: 7001\nstorage_dir: /tmp/arcade-test\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("ARCADE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.LobbyPort)
	assert.Equal(t, "/tmp/arcade-test", cfg.StorageDir)
	// untouched keys keep defaults
	assert.Equal(t, Default().StoragePort, cfg.StoragePort)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arcade.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lobby_port: 7001\n"), 0o644))
	t.Setenv("ARCADE_CONFIG", path)
	t.Setenv("ARCADE_LOBBY_PORT", "7002")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7002, cfg.LobbyPort)
}

func TestAddrs(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:5555", cfg.LobbyAddr())
	assert.Equal(t, "127.0.0.1:5556", cfg.StorageAddr())
}
