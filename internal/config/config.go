package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Config is the top-level process configuration loaded from file/env.
type Config struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	DataDir  string `json:"dataDir" yaml:"dataDir"`

	// Host is this worker's identity, used when claiming tenant sync
	// ownership and as the name of its private control queue.
	Host string `json:"host" yaml:"host"`
	// Zone scopes the shared control queue this worker listens on.
	Zone string `json:"zone" yaml:"zone"`

	Topology Topology `json:"topology" yaml:"topology"`
	Queue    Queue    `json:"queue" yaml:"queue"`
	Cache    Cache    `json:"cache" yaml:"cache"`
	Log      Log      `json:"log" yaml:"log"`
}

// Queue holds control-queue (NATS) connection parameters.
type Queue struct {
	URL string `json:"url" yaml:"url"`
}

// Cache holds cursor-cache parameters. Dir defaults to <dataDir>/txncache.
type Cache struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Log holds logging parameters.
type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	host, _ := os.Hostname()
	return Config{
		HTTPAddr: ":8080",
		Host:     host,
		Zone:     "default",
		Log:      Log{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Topology.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CacheDir returns the effective cursor-cache directory.
func (c Config) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.DataDir, "txncache")
}

// DefaultDataDir picks a data directory for the host OS: XDG_DATA_HOME when
// set, then /var/lib, Application Support (macOS) or AppData (Windows), and
// ~/.syncd as the last resort.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "syncd")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	candidates := []struct {
		probe string
		dir   string
	}{
		{"/var/lib", "/var/lib/syncd"},
		{filepath.Join(home, "Library"), filepath.Join(home, "Library", "Application Support", "Syncd")},
		{filepath.Join(home, "AppData"), filepath.Join(home, "AppData", "Local", "Syncd")},
	}
	for _, c := range candidates {
		if info, err := os.Stat(c.probe); err == nil && info.IsDir() {
			return c.dir
		}
	}
	return filepath.Join(home, ".syncd")
}
