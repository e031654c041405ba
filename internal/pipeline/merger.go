package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
	"github.com/ncku-metabolomics/classyfire-cli/internal/table"
)

// MergeTimeFormat is the timestamp layout of merged file names.
const MergeTimeFormat = "2006-01-02_15-04-05"

// Index maps an InChIKey to every taxonomy label seen for it.
type Index map[string][]string

// Merger attaches classification labels to the source tables.
type Merger struct {
	source      string
	grouping    string
	finalResult string
	charset     string
	now         func() time.Time
}

// NewMerger creates the merge stage.
func NewMerger(cfg *config.Config) *Merger {
	return &Merger{
		source:      cfg.Folders.Source,
		grouping:    cfg.Folders.Grouping,
		finalResult: cfg.Folders.FinalResult,
		charset:     cfg.Pipeline.SourceCharset,
		now:         time.Now,
	}
}

// Run writes one timestamped merged table per source table.
func (m *Merger) Run(ctx context.Context) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "merger"))

	index, err := BuildIndex(ctx, m.grouping)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: identifier index built", zap.Int("keys", len(index)))

	if err := os.MkdirAll(m.finalResult, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", m.finalResult)
	}

	files, err := table.ListFiles(m.source, true, table.SourceExts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		log.Info("pipeline: no source tables to merge", zap.String("folder", m.source))
		return skipped(StepMerge, m.source), nil
	}

	stamp := m.now().Format(MergeTimeFormat)
	res := &StageResult{Step: StepMerge}
	for _, path := range files {
		t, err := table.ReadFile(ctx, path, table.ReadOptions{
			Delimiter: table.DelimiterFor(path),
			Charset:   m.charset,
		})
		if err != nil {
			return nil, err
		}
		matched, err := attachClass(t, index)
		if err != nil {
			return nil, err
		}

		dest, err := freePath(filepath.Join(m.finalResult, table.BaseName(path)+"_"+stamp), ".csv")
		if err != nil {
			return nil, err
		}
		if err := table.WriteCSV(dest, t); err != nil {
			return nil, err
		}
		log.Info("pipeline: merged table written",
			zap.String("file", dest),
			zap.String("rows", humanize.Comma(int64(t.Len()))),
			zap.Int("matched", matched),
		)
		res.Files++
		res.Rows += t.Len()
		res.Outputs = append(res.Outputs, dest)
	}
	return res, nil
}

// BuildIndex scans every classification table under dir.
func BuildIndex(ctx context.Context, dir string) (Index, error) {
	files, err := table.ListFiles(dir, true, table.DerivedExts)
	if err != nil {
		return nil, err
	}

	index := make(Index)
	for _, path := range files {
		t, err := table.ReadFile(ctx, path, table.ReadOptions{Delimiter: ','})
		if err != nil {
			return nil, err
		}
		if !t.Has(ColClassInChIKey) {
			return nil, eris.Errorf("pipeline: %s has no %s column", t.Name, ColClassInChIKey)
		}
		index.Add(t)
	}
	return index, nil
}

// Add appends the non-empty labels of every row in t, direct parent first
// then kingdom to subclass. Labels already present are appended again.
func (idx Index) Add(t *table.Table) {
	for i := range t.Rows {
		key := strings.TrimSpace(t.Get(i, ColClassInChIKey))
		if key == "" {
			continue
		}
		if labels := taxonomyFromRow(t, i).Labels(); len(labels) > 0 {
			idx[key] = append(idx[key], labels...)
		}
	}
}

func attachClass(t *table.Table, index Index) (int, error) {
	keyCol := t.Index(table.ColInChIKey)
	if keyCol < 0 {
		return 0, eris.Errorf("pipeline: %s has no %s column", t.Name, table.ColInChIKey)
	}
	classCol := t.AddColumn(table.ColClass)

	matched := 0
	for _, row := range t.Rows {
		key := strings.TrimSpace(row[keyCol])
		if key == "" {
			continue
		}
		labels, ok := index[key]
		if !ok {
			continue
		}
		cell, err := EncodeClass(labels)
		if err != nil {
			return 0, err
		}
		row[classCol] = cell
		matched++
	}
	return matched, nil
}

// EncodeClass renders a label list as a JSON array of strings.
func EncodeClass(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(labels); err != nil {
		return "", eris.Wrap(err, "pipeline: encode class")
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// freePath returns stem+ext, or stem_N+ext for the first N that does not
// exist yet.
func freePath(stem, ext string) (string, error) {
	path := stem + ext
	for n := 1; ; n++ {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return path, nil
		}
		if err != nil {
			return "", eris.Wrapf(err, "pipeline: stat %s", path)
		}
		path = stem + "_" + strconv.Itoa(n) + ext
	}
}
