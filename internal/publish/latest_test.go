package publish

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatest_PicksNewestCSV(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.csv")
	newer := filepath.Join(dir, "merge_result.csv")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, newer, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, base, base))
	require.NoError(t, os.Chtimes(newer, base.Add(time.Minute), base.Add(time.Minute)))
	require.NoError(t, os.Chtimes(other, base.Add(time.Hour), base.Add(time.Hour)))

	path, info, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, newer, path)
	assert.Equal(t, "merge_result.csv", info.Name())
}

func TestLatest_Empty(t *testing.T) {
	_, _, err := Latest(t.TempDir())
	assert.ErrorIs(t, err, ErrNoResult)

	_, _, err = Latest(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrNoResult)
}
