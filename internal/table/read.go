package table

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ErrEmpty is returned when a file has no header row.
var ErrEmpty = eris.New("table: no header row")

// ReadOptions configures ReadFile.
type ReadOptions struct {
	// Delimiter for text files. Default ','.
	Delimiter rune
	// Charset for text files without a BOM. Default UTF-8.
	Charset string
	// SheetIndex selects the worksheet for .xlsx files.
	SheetIndex int
}

// ReadFile loads a table from disk. Files ending in .xlsx are read from a
// worksheet; everything else is parsed as delimited text.
func ReadFile(ctx context.Context, path string, opts ReadOptions) (*Table, error) {
	name := filepath.Base(path)

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		rows, err := readXLSX(path, opts.SheetIndex)
		if err != nil {
			return nil, eris.Wrapf(err, "table: read %s", name)
		}
		return fromRecords(name, rows)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", name)
	}
	defer f.Close() //nolint:errcheck

	t, err := Read(ctx, name, f, opts)
	if err != nil {
		return nil, eris.Wrapf(err, "table: read %s", name)
	}
	return t, nil
}

// Read parses delimited text into a table. The first record is the header.
func Read(ctx context.Context, name string, r io.Reader, opts ReadOptions) (*Table, error) {
	rowCh, errCh := StreamRows(ctx, r, StreamOptions{Delimiter: opts.Delimiter, Charset: opts.Charset})

	var records [][]string
	for row := range rowCh {
		records = append(records, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return fromRecords(name, records)
}

func fromRecords(name string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	t := &Table{Name: name, Header: header}
	for i, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		if len(rec) > len(header) {
			if !isBlank(rec[len(header):]) {
				return nil, eris.Errorf("table: row %d has %d fields, header has %d", i+2, len(rec), len(header))
			}
			rec = rec[:len(header)]
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func readXLSX(path string, sheetIndex int) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if sheetIndex < 0 || sheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", sheetIndex, len(f.Sheets))
	}

	sheet := f.Sheets[sheetIndex]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
