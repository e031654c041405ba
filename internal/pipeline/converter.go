package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/table"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/cts"
)

// missingKey is the literal a spreadsheet export leaves in empty key cells.
const missingKey = "nan"

// Converter appends one identifier column per target namespace to each
// merged table.
type Converter struct {
	client        cts.Client
	metrics       *metrics.Metrics
	finalResult   string
	convertResult string
	from          string
	targets       []string
}

// NewConverter creates the conversion stage. m may be nil.
func NewConverter(cfg *config.Config, client cts.Client, m *metrics.Metrics) *Converter {
	return &Converter{
		client:        client,
		metrics:       m,
		finalResult:   cfg.Folders.FinalResult,
		convertResult: cfg.Folders.ConvertResult,
		from:          cfg.CTS.Source,
		targets:       cfg.CTS.Targets,
	}
}

// Run converts every merged table.
func (c *Converter) Run(ctx context.Context) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "converter"))

	files, err := table.ListFiles(c.finalResult, false, table.DerivedExts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		log.Error("pipeline: no files in the final result folder to process", zap.String("folder", c.finalResult))
		return skipped(StepConvert, c.finalResult), nil
	}

	if err := os.MkdirAll(c.convertResult, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", c.convertResult)
	}

	res := &StageResult{Step: StepConvert}
	for _, path := range files {
		t, err := table.ReadFile(ctx, path, table.ReadOptions{Delimiter: ','})
		if err != nil {
			return nil, err
		}
		if err := c.convertTable(ctx, t); err != nil {
			return nil, err
		}

		dest := filepath.Join(c.convertResult, filepath.Base(path))
		if err := table.WriteCSV(dest, t); err != nil {
			return nil, err
		}
		log.Info("pipeline: converted table written", zap.String("file", dest), zap.Int("rows", t.Len()))
		res.Files++
		res.Rows += t.Len()
		res.Outputs = append(res.Outputs, dest)
	}
	return res, nil
}

// convertTable fills each target column. Only the first row carrying a
// given key receives the converted value.
func (c *Converter) convertTable(ctx context.Context, t *table.Table) error {
	if !t.Has(table.ColInChIKey) {
		return eris.Errorf("pipeline: %s has no %s column", t.Name, table.ColInChIKey)
	}
	keys := t.Column(table.ColInChIKey)

	firstRow := make(map[string]int, len(keys))
	for i, k := range keys {
		k = strings.TrimSpace(k)
		if _, seen := firstRow[k]; !seen {
			firstRow[k] = i
		}
	}

	for _, target := range c.targets {
		zap.L().Info("pipeline: converting identifiers",
			zap.String("file", t.Name),
			zap.String("target", target),
		)
		converted, err := c.client.ConvertBatch(ctx, c.from, target, keys)
		if err != nil {
			return eris.Wrapf(err, "pipeline: convert %s to %s", t.Name, target)
		}

		col := t.AddColumn(target)
		for key, value := range converted {
			if key == missingKey {
				continue
			}
			if i, ok := firstRow[key]; ok {
				t.Rows[i][col] = value
			}
		}

		for key := range firstRow {
			if key == "" || key == missingKey {
				continue
			}
			_, hit := converted[key]
			c.metrics.ObserveConversion(target, hit)
		}
	}
	return nil
}
