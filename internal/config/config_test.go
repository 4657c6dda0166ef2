package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
remote = "https://blobs.example.com/objects"
cache_dir = "/var/cache/isorun"
verify = true

[cache]
max_size = 1024
max_items = 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/objects", cfg.Remote)
	assert.Equal(t, "/var/cache/isorun", cfg.CacheDir)
	assert.True(t, cfg.Verify)
	assert.Equal(t, int64(1024), cfg.Cache.MaxSize)
	assert.Equal(t, 10, cfg.Cache.MaxItems)
	// Unset keys keep their defaults.
	assert.Equal(t, Default().Cache.MinFreeSpace, cfg.Cache.MinFreeSpace)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `remothe = "oops"`+"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remothe")
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `remote = `)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadExpandsHome(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := writeConfig(t, `cache_dir = "~/isorun-cache"`+"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "isorun-cache"), cfg.CacheDir)
}
