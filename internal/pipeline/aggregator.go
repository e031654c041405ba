package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
	"github.com/ncku-metabolomics/classyfire-cli/internal/table"
)

// ColPubChemCID is the conversion column carried into the aggregate.
const ColPubChemCID = "PubChem CID"

// Aggregator folds the Area column of every converted table into one wide
// table keyed by title.
type Aggregator struct {
	convertResult string
	outDir        string
	outFile       string
}

// NewAggregator creates the aggregation stage.
func NewAggregator(cfg *config.Config) *Aggregator {
	return &Aggregator{
		convertResult: cfg.Folders.ConvertResult,
		outDir:        cfg.Folders.MetaboAnalyst,
		outFile:       cfg.Pipeline.OutputFile,
	}
}

// OutputPath returns where the aggregated table is written.
func (a *Aggregator) OutputPath() string {
	return filepath.Join(a.outDir, a.outFile)
}

// Run writes the aggregated table, replacing any earlier one.
func (a *Aggregator) Run(ctx context.Context) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "aggregator"))

	files, err := table.ListFiles(a.convertResult, false, table.DerivedExts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		log.Info("pipeline: no CSV files found to aggregate", zap.String("folder", a.convertResult))
		return skipped(StepAggregate, a.convertResult), nil
	}

	out := table.New(a.outFile, table.ColTitle, ColPubChemCID)
	rowOf := make(map[string]int)
	for _, path := range files {
		t, err := table.ReadFile(ctx, path, table.ReadOptions{Delimiter: ','})
		if err != nil {
			return nil, err
		}
		if err := mergeAreas(out, rowOf, t, table.Stem(path)); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(a.outDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", a.outDir)
	}
	dest := a.OutputPath()
	if err := table.WriteCSV(dest, out); err != nil {
		return nil, err
	}
	log.Info("pipeline: aggregated table written",
		zap.String("file", dest),
		zap.Int("files", len(files)),
		zap.Int("titles", out.Len()),
	)
	return &StageResult{
		Step:    StepAggregate,
		Files:   len(files),
		Rows:    out.Len(),
		Outputs: []string{dest},
	}, nil
}

// mergeAreas adds column col to out and fills it from t. The first file
// that mentions a title fixes that row's CID.
func mergeAreas(out *table.Table, rowOf map[string]int, t *table.Table, col string) error {
	t.NormalizeTitle()
	for _, c := range []string{table.ColTitle, table.ColArea, ColPubChemCID} {
		if !t.Has(c) {
			return eris.Errorf("pipeline: %s has no %s column", t.Name, c)
		}
	}

	out.AddColumn(col)
	for i := range t.Rows {
		title := t.Get(i, table.ColTitle)
		area := t.Get(i, table.ColArea)
		if j, ok := rowOf[title]; ok {
			out.Set(j, col, area)
			continue
		}
		out.AppendRow(map[string]string{
			table.ColTitle: title,
			ColPubChemCID:  t.Get(i, ColPubChemCID),
			col:            area,
		})
		rowOf[title] = out.Len() - 1
	}
	return nil
}
