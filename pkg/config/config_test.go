package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Empty(t, cfg.Root)
	assert.Empty(t, cfg.Include)
	assert.Zero(t, cfg.Watch.DebounceMs)
	assert.Equal(t, dir, cfg.EffectiveRoot(dir))
}

func TestLoad_ReadsAllSections(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
include:
  - "lib/**/*.ex"
exclude:
  - "**/generated/**"
watch:
  debounce_ms: 250
  ignore:
    - "**/*.exs"
tree_cache_capacity: 64
log:
  level: debug
  format: json
mcp_log_path: /tmp/phxlens-mcp.jsonl
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"lib/**/*.ex"}, cfg.Include)
	assert.Equal(t, []string{"**/generated/**"}, cfg.Exclude)
	assert.Equal(t, 250, cfg.Watch.DebounceMs)
	assert.Equal(t, []string{"**/*.exs"}, cfg.Watch.Ignore)
	assert.Equal(t, 64, cfg.TreeCacheCapacity)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/phxlens-mcp.jsonl", cfg.MCPLogPath)
}

func TestLoad_RelativeRootResolvesAgainstConfigDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "app"), 0o755))
	writeConfig(t, dir, "root: app\n")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "app"), cfg.Root)
	assert.Equal(t, filepath.Join(dir, "app"), cfg.EffectiveRoot(dir))
}

func TestLoad_AbsoluteRootKept(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "root: /srv/app\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/app", cfg.Root)
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "include: [unclosed\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), FileName)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown level", "log:\n  level: loud\n"},
		{"unknown format", "log:\n  format: xml\n"},
		{"negative debounce", "watch:\n  debounce_ms: -1\n"},
		{"negative capacity", "tree_cache_capacity: -5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tc.content)

			_, err := Load(dir)
			require.Error(t, err)
		})
	}
}

func TestLoggerConfig_MapsLevelsAndFormats(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "warn", Format: "json"}}

	lc := cfg.LoggerConfig()
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "json", lc.Format)

	defaults := (&Config{}).LoggerConfig()
	assert.Equal(t, "info", defaults.Level)
	assert.Equal(t, "text", defaults.Format)
}
