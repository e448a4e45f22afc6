// Package config provides configuration management for replay.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Environment overrides, checked before platform defaults.
const (
	EnvCodexRoot    = "REPLAY_CODEX_ROOT"
	EnvOpenCodeRoot = "REPLAY_OPENCODE_ROOT"
	EnvCacheDir     = "REPLAY_CACHE_DIR"
)

// Config holds the storage roots every adapter reads from. Empty fields
// fall back to environment variables and then platform defaults.
type Config struct {
	CodexRoot    string `yaml:"codex_root"`
	OpenCodeRoot string `yaml:"opencode_root"`
	CacheDir     string `yaml:"cache_dir"`
}

// Load reads the YAML file at path. A missing file yields the zero Config
// (not an error); resolution happens in the accessor methods.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPath returns the expected config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "replay", "config.yaml")
}

// ResolveCodexRoot returns the Codex sessions root: config value, then
// environment, then ~/.codex/sessions.
func (c *Config) ResolveCodexRoot() string {
	if c != nil && c.CodexRoot != "" {
		return c.CodexRoot
	}
	if env := os.Getenv(EnvCodexRoot); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codex", "sessions")
}

// ResolveOpenCodeRoot returns the OpenCode storage root: config value, then
// environment, then the first platform candidate that exists on disk, then
// the primary candidate.
func (c *Config) ResolveOpenCodeRoot() string {
	if c != nil && c.OpenCodeRoot != "" {
		return c.OpenCodeRoot
	}
	if env := os.Getenv(EnvOpenCodeRoot); env != "" {
		return env
	}

	home, _ := os.UserHomeDir()
	candidates := openCodeRootCandidates(home)
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path
		}
	}
	return candidates[len(candidates)-1]
}

// ResolveCacheDir returns the directory summary caches are written to.
func (c *Config) ResolveCacheDir() string {
	if c != nil && c.CacheDir != "" {
		return c.CacheDir
	}
	if env := os.Getenv(EnvCacheDir); env != "" {
		return env
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "replay")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "replay")
}

// openCodeRootCandidates lists platform-ordered storage locations. OpenCode
// historically used ~/.local/share on every platform before moving to
// platform-native paths, so both generations are checked.
func openCodeRootCandidates(home string) []string {
	var candidates []string

	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates, filepath.Join(home, "Library", "Application Support", "opencode", "storage"))
	case "linux":
		xdgData := os.Getenv("XDG_DATA_HOME")
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		candidates = append(candidates, filepath.Join(xdgData, "opencode", "storage"))
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			candidates = append(candidates, filepath.Join(localAppData, "opencode", "Data", "storage"))
		}
	}

	legacy := filepath.Join(home, ".local", "share", "opencode", "storage")
	if len(candidates) == 0 || candidates[len(candidates)-1] != legacy {
		candidates = append(candidates, legacy)
	}
	return candidates
}
