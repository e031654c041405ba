package publish

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoResult is returned by Latest when dir holds no CSV file.
var ErrNoResult = eris.New("publish: no result file")

// Latest returns the most recently modified .csv file in dir.
func Latest(dir string) (string, os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, ErrNoResult
		}
		return "", nil, eris.Wrapf(err, "publish: read %s", dir)
	}

	var bestPath string
	var best os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == nil || info.ModTime().After(best.ModTime()) {
			bestPath, best = filepath.Join(dir, e.Name()), info
		}
	}
	if best == nil {
		return "", nil, ErrNoResult
	}
	return bestPath, best, nil
}
