// Package config loads the optional isorun config file: defaults for
// the store location, cache directory, and cache policies, overridable
// by CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the isorun configuration.
type Config struct {
	Remote   string `toml:"remote"`    // backing store: directory or http(s) URL
	CacheDir string `toml:"cache_dir"` // where the LRU cache lives
	Verify   bool   `toml:"verify"`    // hash fetched blobs against their ids

	Cache CachePolicies `toml:"cache"`
}

// CachePolicies mirrors the cache trim bounds.
type CachePolicies struct {
	MaxSize      int64 `toml:"max_size"`
	MinFreeSpace int64 `toml:"min_free_space"`
	MaxItems     int   `toml:"max_items"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		CacheDir: "cache",
		Cache: CachePolicies{
			MaxSize:      20 << 30,
			MinFreeSpace: 1 << 30,
			MaxItems:     100000,
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "isorun", "config.toml")
}

// Load reads the config file at path, falling back to defaults when it
// does not exist. Unknown keys are rejected so typos don't silently
// configure nothing.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := expand(&cfg.CacheDir); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expand resolves a leading ~ to the user's home directory.
func expand(path *string) error {
	p := *path
	if len(p) >= 2 && p[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		*path = filepath.Join(home, p[2:])
	}
	return nil
}
