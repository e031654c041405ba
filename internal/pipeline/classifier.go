package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/table"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

// UnknownTitle marks rows MS-DIAL could not annotate.
const UnknownTitle = "Unknown"

// Classification table columns, in output order.
const (
	ColClassTitle        = "title"
	ColClassInChIKey     = "inchikey"
	ColClassKingdom      = "Kingdom"
	ColClassSuperclass   = "Superclass"
	ColClassClass        = "class"
	ColClassSubclass     = "subclass"
	ColClassIntermediate = "intermediate_nodes"
	ColClassDirectParent = "direct_parents"
)

var classificationHeader = []string{
	ColClassTitle,
	ColClassInChIKey,
	ColClassKingdom,
	ColClassSuperclass,
	ColClassClass,
	ColClassSubclass,
	ColClassIntermediate,
	ColClassDirectParent,
}

// ClassificationCache is the part of the store the classifier uses.
type ClassificationCache interface {
	GetCachedClassification(ctx context.Context, inchikey string) (*model.CacheEntry, error)
	SetCachedClassification(ctx context.Context, inchikey string, status model.CacheStatus, tax classyfire.Taxonomy, ttl time.Duration) error
}

// Classifier writes one classification table per source table.
type Classifier struct {
	client   classyfire.Client
	cache    ClassificationCache
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	source   string
	grouping string
	charset  string
	ttl      time.Duration
	progress bool
}

// NewClassifier creates the classification stage. cache and m may be nil.
func NewClassifier(cfg *config.Config, client classyfire.Client, cache ClassificationCache, m *metrics.Metrics) *Classifier {
	limit := rate.Inf
	if d := cfg.ClassyFire.Delay(); d > 0 {
		limit = rate.Every(d)
	}
	return &Classifier{
		client:   client,
		cache:    cache,
		limiter:  rate.NewLimiter(limit, 1),
		metrics:  m,
		source:   cfg.Folders.Source,
		grouping: cfg.Folders.Grouping,
		charset:  cfg.Pipeline.SourceCharset,
		ttl:      cfg.Pipeline.CacheTTL(),
		progress: cfg.Pipeline.Progress,
	}
}

// Run classifies every row of every source table.
func (c *Classifier) Run(ctx context.Context) (*StageResult, error) {
	log := zap.L().With(zap.String("component", "classifier"))

	if err := os.MkdirAll(c.grouping, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", c.grouping)
	}

	files, err := table.ListFiles(c.source, false, table.SourceExts)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		log.Info("pipeline: no source tables to classify", zap.String("folder", c.source))
		return skipped(StepClassify, c.source), nil
	}

	res := &StageResult{Step: StepClassify}
	for _, path := range files {
		out, err := c.classifyFile(ctx, path)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(c.grouping, table.BaseName(path)+".csv")
		if err := table.WriteCSV(dest, out); err != nil {
			return nil, err
		}
		log.Info("pipeline: classification table written",
			zap.String("file", dest),
			zap.String("rows", humanize.Comma(int64(out.Len()))),
		)
		res.Files++
		res.Rows += out.Len()
		res.Outputs = append(res.Outputs, dest)
	}
	return res, nil
}

func (c *Classifier) classifyFile(ctx context.Context, path string) (*table.Table, error) {
	t, err := table.ReadFile(ctx, path, table.ReadOptions{
		Delimiter: table.DelimiterFor(path),
		Charset:   c.charset,
	})
	if err != nil {
		return nil, err
	}
	t.NormalizeTitle()
	for _, col := range []string{table.ColTitle, table.ColInChIKey} {
		if !t.Has(col) {
			return nil, eris.Errorf("pipeline: %s has no %s column", t.Name, col)
		}
	}

	out := table.New(table.BaseName(path), classificationHeader...)
	tick, finish := newProgress(c.progress, t.Len(), t.Name+" ")
	defer finish()

	for i := range t.Rows {
		tick()
		title := t.Get(i, table.ColTitle)
		if title == UnknownTitle {
			continue
		}
		key := strings.TrimSpace(t.Get(i, table.ColInChIKey))

		tax, err := c.classify(ctx, key)
		if err != nil {
			return nil, err
		}
		out.AppendRow(map[string]string{
			ColClassTitle:        title,
			ColClassInChIKey:     key,
			ColClassKingdom:      tax.Kingdom,
			ColClassSuperclass:   tax.Superclass,
			ColClassClass:        tax.Class,
			ColClassSubclass:     tax.Subclass,
			ColClassIntermediate: tax.IntermediateNodesString(),
			ColClassDirectParent: tax.DirectParent,
		})
	}
	return out, nil
}

// classify resolves one key. Only cancellation is returned as an error;
// every other failure yields an empty taxonomy.
func (c *Classifier) classify(ctx context.Context, key string) (classyfire.Taxonomy, error) {
	log := zap.L().With(zap.String("component", "classifier"), zap.String("inchikey", key))

	if key == "" {
		c.metrics.ObserveLookup(classyfire.OutcomeMissing.String())
		return classyfire.Taxonomy{}, nil
	}

	if c.cache != nil {
		entry, err := c.cache.GetCachedClassification(ctx, key)
		if err != nil {
			log.Warn("pipeline: cache read failed", zap.Error(err))
		} else if entry != nil {
			c.metrics.ObserveLookup("cached")
			return entry.Taxonomy, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return classyfire.Taxonomy{}, eris.Wrap(err, "pipeline: classification delay")
	}

	entity, err := c.client.Lookup(ctx, key)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return classyfire.Taxonomy{}, eris.Wrap(ctxErr, "pipeline: classify")
	}

	outcome := classyfire.OutcomeOf(err)
	c.metrics.ObserveLookup(outcome.String())
	tax := classyfire.TaxonomyOf(entity)

	switch outcome {
	case classyfire.OutcomeFound:
		c.remember(ctx, key, model.CacheStatusFound, tax)
	case classyfire.OutcomeMissing:
		log.Warn("pipeline: no classification available", zap.Error(err))
		c.remember(ctx, key, model.CacheStatusMissing, tax)
	default:
		log.Warn("pipeline: classification lookup failed", zap.Error(err))
	}
	return tax, nil
}

func (c *Classifier) remember(ctx context.Context, key string, status model.CacheStatus, tax classyfire.Taxonomy) {
	if c.cache == nil || c.ttl <= 0 {
		return
	}
	if err := c.cache.SetCachedClassification(ctx, key, status, tax, c.ttl); err != nil {
		zap.L().Warn("pipeline: cache write failed", zap.String("inchikey", key), zap.Error(err))
	}
}
