package table

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Extension sets accepted by the pipeline stages.
var (
	SourceExts  = []string{".xlsx", ".csv", ".txt", ".tsv"}
	DerivedExts = []string{".csv", ".txt"}
)

// ListFiles returns regular files in dir whose extension is in exts, sorted
// by path. Hidden files are skipped. A missing dir yields no files.
func ListFiles(dir string, recursive bool, exts []string) ([]string, error) {
	var out []string

	walk := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !d.Type().IsRegular() {
			return nil
		}
		if hasExt(d.Name(), exts) {
			out = append(out, path)
		}
		return nil
	}

	if err := filepath.WalkDir(dir, walk); err != nil {
		return nil, eris.Wrapf(err, "table: list %s", dir)
	}
	slices.Sort(out)
	return out, nil
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(exts, ext)
}

// DelimiterFor returns the delimiter to use for a raw source file: tab for
// text exports, none for workbooks.
func DelimiterFor(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return 0
	}
	return '\t'
}
