package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestOpenStore_SQLiteCreatesDir(t *testing.T) {
	c := config.Default()
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "nested", "dir", "classyfire.db")
	withConfig(t, c)

	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	stats, err := st.CacheStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.FileExists(t, c.Store.DatabaseURL)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := config.Default()
	c.Store.Driver = "mongo"
	withConfig(t, c)

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	c := config.Default()
	c.CTS.Targets = nil
	withConfig(t, c)

	_, err := initPipeline(context.Background(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cts.targets")
}

func TestInitPipeline(t *testing.T) {
	root := t.TempDir()
	c := config.Default()
	c.Store.DatabaseURL = filepath.Join(root, "classyfire.db")
	c.ClassyFire.CircuitThreshold = 3
	withConfig(t, c)

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Metrics)
	assert.Equal(t, filepath.Join(c.Folders.MetaboAnalyst, c.Pipeline.OutputFile), env.Pipeline.AggregatePath())
}
