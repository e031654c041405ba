package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetFolders(t *testing.T) {
	cfg := testConfig(t)
	src := writeTable(t, cfg.Folders.Source, "a.txt", "\t", []string{"Title"})
	stale := writeTable(t, cfg.Folders.Grouping, "a.csv", ",", []string{"title"})

	reset, err := ResetFolders(cfg.Folders, false)
	require.NoError(t, err)
	assert.Equal(t, cfg.Folders.All(), reset)

	for _, dir := range cfg.Folders.All() {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.NoFileExists(t, src)
	assert.NoFileExists(t, stale)
}

func TestResetFolders_KeepSource(t *testing.T) {
	cfg := testConfig(t)
	src := writeTable(t, cfg.Folders.Source, "a.txt", "\t", []string{"Title"})
	stale := writeTable(t, cfg.Folders.MetaboAnalyst, "out.csv", ",", []string{"Title"})

	reset, err := ResetFolders(cfg.Folders, true)
	require.NoError(t, err)
	assert.Len(t, reset, 4)
	assert.NotContains(t, reset, cfg.Folders.Source)

	assert.FileExists(t, src)
	assert.NoFileExists(t, stale)
	assert.DirExists(t, filepath.Dir(stale))
}
