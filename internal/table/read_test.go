package table

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/unicode"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createTestXLSX(t *testing.T, dir string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(dir, "sample.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadFile_TabDelimited(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sample1.txt",
		"Title\tInChIKey\tArea\nGlucose\tWQZGKKKJIJFFOK-GASJEMHNSA-N\t1200\nUnknown\t\t5\n")

	tbl, err := ReadFile(context.Background(), path, ReadOptions{Delimiter: '\t'})
	require.NoError(t, err)

	assert.Equal(t, "sample1.txt", tbl.Name)
	assert.Equal(t, []string{"Title", "InChIKey", "Area"}, tbl.Header)
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "WQZGKKKJIJFFOK-GASJEMHNSA-N", tbl.Get(0, ColInChIKey))
	assert.Equal(t, "", tbl.Get(1, ColInChIKey))
}

func TestReadFile_PadsShortRowsAndSkipsBlank(t *testing.T) {
	path := writeFile(t, t.TempDir(), "short.csv", "a,b,c\n1\n\n,,\n4,5,6,\n")

	tbl, err := ReadFile(context.Background(), path, ReadOptions{})
	require.NoError(t, err)

	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"1", "", ""}, tbl.Rows[0])
	assert.Equal(t, []string{"4", "5", "6"}, tbl.Rows[1])
}

func TestReadFile_RejectsOverlongRows(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.csv", "a,b\n1,2,3\n")

	_, err := ReadFile(context.Background(), path, ReadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 fields")
}

func TestReadFile_Empty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.txt", "")

	_, err := ReadFile(context.Background(), path, ReadOptions{Delimiter: '\t'})
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReadFile_UTF8BOM(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bom.txt", "\ufeffTitle\tInChIKey\nGlucose\tKEY\n")

	tbl, err := ReadFile(context.Background(), path, ReadOptions{Delimiter: '\t'})
	require.NoError(t, err)
	assert.Equal(t, "Title", tbl.Header[0])
}

func TestReadFile_UTF16WithBOM(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	content, err := enc.String("Title\tInChIKey\nβ-Alanine\tUCMIRNVEIXFBKS-UHFFFAOYSA-N\n")
	require.NoError(t, err)
	path := writeFile(t, t.TempDir(), "utf16.txt", content)

	tbl, err := ReadFile(context.Background(), path, ReadOptions{Delimiter: '\t'})
	require.NoError(t, err)
	assert.Equal(t, []string{"Title", "InChIKey"}, tbl.Header)
	assert.Equal(t, "β-Alanine", tbl.Get(0, ColTitle))
}

func TestRead_Charset(t *testing.T) {
	// "Caf\xe9" is Latin-1 for "Café".
	tbl, err := Read(context.Background(), "latin1.csv", strings.NewReader("Title\nCaf\xe9\n"), ReadOptions{Charset: "iso-8859-1"})
	require.NoError(t, err)
	assert.Equal(t, "Café", tbl.Get(0, ColTitle))

	_, err = Read(context.Background(), "x.csv", strings.NewReader("a\n"), ReadOptions{Charset: "no-such-charset"})
	assert.Error(t, err)
}

func TestRead_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Read(ctx, "x.csv", strings.NewReader("a\n1\n"), ReadOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadFile_XLSX(t *testing.T) {
	path := createTestXLSX(t, t.TempDir(), [][]string{
		{"Name", "InChIKey", "Area"},
		{"Glucose", "WQZGKKKJIJFFOK-GASJEMHNSA-N", "1200"},
	})

	tbl, err := ReadFile(context.Background(), path, ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "InChIKey", "Area"}, tbl.Header)
	assert.Equal(t, "Glucose", tbl.Get(0, ColName))
}

func TestReadFile_XLSXSheetOutOfRange(t *testing.T) {
	path := createTestXLSX(t, t.TempDir(), [][]string{{"a"}})

	_, err := ReadFile(context.Background(), path, ReadOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), ReadOptions{})
	assert.Error(t, err)
}
