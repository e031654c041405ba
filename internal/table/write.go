package table

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WriteCSV writes t as comma-delimited text with a header row, creating
// parent directories and replacing any existing file at path.
func WriteCSV(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "table: create dir for %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return eris.Wrapf(err, "table: create %s", path)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	w := csv.NewWriter(tmp)
	if err := w.Write(t.Header); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "table: write header")
	}
	if err := w.WriteAll(t.Rows); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "table: write rows")
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrapf(err, "table: chmod %s", path)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "table: close %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "table: rename into %s", path)
	}
	return nil
}
