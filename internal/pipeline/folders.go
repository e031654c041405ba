package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
)

// ResetFolders deletes and recreates every stage folder. The source folder
// is left untouched when keepSource is set. It returns the folders reset.
func ResetFolders(folders config.FoldersConfig, keepSource bool) ([]string, error) {
	var reset []string
	for _, dir := range folders.All() {
		if dir == "" || (keepSource && dir == folders.Source) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return reset, eris.Wrapf(err, "pipeline: remove %s", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return reset, eris.Wrapf(err, "pipeline: create %s", dir)
		}
		zap.L().Info("pipeline: folder reset", zap.String("folder", dir))
		reset = append(reset, dir)
	}
	return reset, nil
}
