package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://classyfire.wishartlab.com", cfg.ClassyFire.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.ClassyFire.Timeout())
	assert.Equal(t, 3, cfg.ClassyFire.Retries)
	assert.Equal(t, 300, cfg.ClassyFire.BackoffMs)
	assert.Equal(t, 6*time.Second, cfg.ClassyFire.Delay())
	assert.Equal(t, "InChIKey", cfg.CTS.Source)
	assert.Equal(t, []string{"Human Metabolome Database", "KEGG", "PubChem CID", "ChEBI"}, cfg.CTS.Targets)
	assert.Equal(t, []string{
		"data/clean_result",
		"data/grouping_result",
		"data/final_result",
		"data/convert_result",
		"data/metaboanalyst_pubchem",
	}, cfg.Folders.All())
	assert.Equal(t, time.Hour, cfg.Pipeline.Timeout())
	assert.Equal(t, "merge_result.csv", cfg.Pipeline.OutputFile)
	assert.Equal(t, 30*24*time.Hour, cfg.Pipeline.CacheTTL())
	assert.True(t, cfg.Pipeline.Progress)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/classyfire.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestDefaultMatchesLoad(t *testing.T) {
	chdirTemp(t)

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, loaded, Default())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
classyfire:
  delay_ms: 0
  retries: 5
folders:
  source: input
cts:
  targets: ["KEGG"]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.ClassyFire.DelayMs)
	assert.Equal(t, 5, cfg.ClassyFire.Retries)
	assert.Equal(t, "input", cfg.Folders.Source)
	assert.Equal(t, []string{"KEGG"}, cfg.CTS.Targets)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, "data/grouping_result", cfg.Folders.Grouping)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CLASSYFIRE_STORE_DRIVER", "postgres")
	t.Setenv("CLASSYFIRE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CLASSYFIRE_CLASSYFIRE_DELAY_MS", "250")
	t.Setenv("CLASSYFIRE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.ClassyFire.Delay())
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
