// Package config loads .phxlens.yml, the optional per-project
// configuration file. Every field is optional; zero values defer to
// the component defaults (500ms debounce, 200-tree parse cache,
// info-level text logs on stderr).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/phxlens/phxlens/pkg/util"
)

// FileName is looked up directly under the workspace root.
const FileName = ".phxlens.yml"

// Config holds the contents of .phxlens.yml.
type Config struct {
	// Root redirects the workspace root. Relative values resolve
	// against the directory the config file was loaded from.
	Root string `yaml:"root"`

	// Include and Exclude are doublestar globs matched against
	// root-relative paths during workspace scans.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Watch tunes the file watcher.
	Watch WatchConfig `yaml:"watch"`

	// TreeCacheCapacity bounds how many template parse trees stay
	// resident for incremental reparsing.
	TreeCacheCapacity int `yaml:"tree_cache_capacity"`

	// Log selects level and format for stderr logging.
	Log LogConfig `yaml:"log"`

	// MCPLogPath enables JSONL logging of MCP tool calls when set.
	MCPLogPath string `yaml:"mcp_log_path"`
}

// WatchConfig tunes debouncing and ignore patterns for watch mode.
type WatchConfig struct {
	DebounceMs int      `yaml:"debounce_ms"`
	Ignore     []string `yaml:"ignore"`
}

// LogConfig carries the log section as plain strings so the YAML
// stays free of Go types.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads dir/.phxlens.yml. A missing file is not an error; it
// yields an all-defaults Config. A relative root key is resolved
// against dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Root != "" && !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(dir, cfg.Root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects values the components would silently misread.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		if _, ok := util.ParseLogLevel(c.Log.Level); !ok {
			return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
		}
	}
	if c.Log.Format != "" && !util.ValidLogFormat(c.Log.Format) {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative, got %d", c.Watch.DebounceMs)
	}
	if c.TreeCacheCapacity < 0 {
		return fmt.Errorf("tree_cache_capacity must not be negative, got %d", c.TreeCacheCapacity)
	}
	return nil
}

// EffectiveRoot returns the workspace root to scan: the config's root
// key when set, otherwise dir.
func (c *Config) EffectiveRoot(dir string) string {
	if c.Root != "" {
		return c.Root
	}
	return dir
}

// LoggerConfig maps the log section onto util's logger options,
// keeping stderr as the output so stdout stays clean for MCP stdio.
func (c *Config) LoggerConfig() util.LoggerConfig {
	lc := util.DefaultLoggerConfig()
	if c.Log.Level != "" {
		lc.Level = c.Log.Level
	}
	if c.Log.Format != "" {
		lc.Format = c.Log.Format
	}
	return lc
}
