// Package table reads and writes the header-first tabular files exchanged
// between pipeline stages: tab-delimited MS-DIAL exports, comma-delimited
// intermediates and XLSX workbooks.
package table

import (
	"slices"
	"strings"
)

// Well-known column names.
const (
	ColTitle    = "Title"
	ColName     = "Name"
	ColInChIKey = "InChIKey"
	ColArea     = "Area"
	ColClass    = "Class"
)

// Table is an in-memory header + rows table. Every row has exactly
// len(Header) cells.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// New creates an empty table with the given header.
func New(name string, header ...string) *Table {
	return &Table{Name: name, Header: slices.Clone(header)}
}

// Index returns the position of col in the header, or -1.
func (t *Table) Index(col string) int {
	return slices.Index(t.Header, col)
}

// Has reports whether the table has a column named col.
func (t *Table) Has(col string) bool {
	return t.Index(col) >= 0
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Get returns the cell at row i in column col, or "" if the column is absent.
func (t *Table) Get(i int, col string) string {
	j := t.Index(col)
	if j < 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i][j]
}

// Column returns a copy of every cell in column col.
func (t *Table) Column(col string) []string {
	j := t.Index(col)
	if j < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out
}

// AddColumn appends an empty column and returns its index. An existing
// column of the same name is reused and cleared.
func (t *Table) AddColumn(col string) int {
	if j := t.Index(col); j >= 0 {
		for _, row := range t.Rows {
			row[j] = ""
		}
		return j
	}
	t.Header = append(t.Header, col)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], "")
	}
	return len(t.Header) - 1
}

// Set writes v into row i of column col, adding the column when needed.
func (t *Table) Set(i int, col, v string) {
	j := t.Index(col)
	if j < 0 {
		j = t.AddColumn(col)
	}
	t.Rows[i][j] = v
}

// AppendRow adds a row built from a column→value map; missing columns are
// left empty and unknown columns are ignored.
func (t *Table) AppendRow(values map[string]string) {
	row := make([]string, len(t.Header))
	for j, col := range t.Header {
		row[j] = values[col]
	}
	t.Rows = append(t.Rows, row)
}

// NormalizeTitle renames a Name column to Title when the table has no
// Title column. It reports whether a rename happened.
func (t *Table) NormalizeTitle() bool {
	if t.Has(ColTitle) {
		return false
	}
	j := t.Index(ColName)
	if j < 0 {
		return false
	}
	t.Header[j] = ColTitle
	return true
}

// BaseName strips the directory and the final extension from a file name.
func BaseName(path string) string {
	name := path
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// Stem returns the file name up to its first dot ("a.b.csv" → "a").
func Stem(path string) string {
	name := path
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}
