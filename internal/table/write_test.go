package table

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	path := filepath.Join(dir, "merged.csv")

	tbl := New("merged.csv", "Title", "InChIKey", "Class")
	tbl.AppendRow(map[string]string{"Title": "Glucose", "InChIKey": "KEY", "Class": `["Organic compounds","Hexoses"]`})
	tbl.AppendRow(map[string]string{"Title": "Alanine, beta", "InChIKey": "KEY2"})

	require.NoError(t, WriteCSV(path, tbl))

	got, err := ReadFile(context.Background(), path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, tbl.Header, got.Header)
	assert.Equal(t, tbl.Rows, got.Rows)
}

func TestWriteCSV_OverwritesAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("old content\n"), 0o644))

	require.NoError(t, WriteCSV(path, New("out.csv", "a", "b")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteCSV_WorldReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MetaboAnalyst.csv")
	require.NoError(t, WriteCSV(path, New("MetaboAnalyst.csv", "Sample", "Label")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}
