package config

import (
	"os"
	"path/filepath"
)

// CacheDir returns the XDG cache directory (~/.cache/smoothdeps).
func CacheDir() (string, error) { return xdgDir("XDG_CACHE_HOME", ".cache") }

// ConfigDir returns the XDG config directory (~/.config/smoothdeps).
func ConfigDir() (string, error) { return xdgDir("XDG_CONFIG_HOME", ".config") }

// StateDir returns the XDG state directory (~/.local/state/smoothdeps).
func StateDir() (string, error) {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

func xdgDir(env, fallback string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, AppName), nil
}

// CachePath returns the configured cache directory or the XDG default.
func (c *Config) CachePath() (string, error) {
	if c.Paths.CacheDir != "" {
		return c.Paths.CacheDir, nil
	}
	return CacheDir()
}

// StatePath returns the configured state directory or the XDG default.
func (c *Config) StatePath() (string, error) {
	if c.Paths.StateDir != "" {
		return c.Paths.StateDir, nil
	}
	return StateDir()
}

// RegistryPath returns the source registry file.
func (c *Config) RegistryPath() (string, error) {
	if c.Paths.Registry != "" {
		return c.Paths.Registry, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sources.yaml"), nil
}

// ArtifactDir holds the content-addressed artifact store.
func (c *Config) ArtifactDir() (string, error) { return c.underCache("artifacts") }

// MetadataDir holds cached registry responses.
func (c *Config) MetadataDir() (string, error) { return c.underCache("http") }

// ScratchDir holds in-flight downloads.
func (c *Config) ScratchDir() (string, error) { return c.underCache("downloads") }

// HealthFile is the persisted health map.
func (c *Config) HealthFile() (string, error) { return c.underState("health.json") }

// HistoryFile is the install journal.
func (c *Config) HistoryFile() (string, error) { return c.underState("history.jsonl") }

func (c *Config) underCache(name string) (string, error) {
	dir, err := c.CachePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (c *Config) underState(name string) (string, error) {
	dir, err := c.StatePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
