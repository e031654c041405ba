// Package store persists the run ledger and the classification cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, mode model.RunMode, startStep int) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Steps
	CreateStep(ctx context.Context, runID string, step int, name string) (*model.StepRun, error)
	CompleteStep(ctx context.Context, stepID string, result *model.StepResult) error
	ListSteps(ctx context.Context, runID string) ([]model.StepRun, error)

	// Classification cache. A nil entry with a nil error means a miss.
	GetCachedClassification(ctx context.Context, inchikey string) (*model.CacheEntry, error)
	SetCachedClassification(ctx context.Context, inchikey string, status model.CacheStatus, tax classyfire.Taxonomy, ttl time.Duration) error
	ImportClassifications(ctx context.Context, entries []model.CacheEntry) (int64, error)
	DeleteExpiredClassifications(ctx context.Context) (int, error)
	CacheStats(ctx context.Context) (*model.CacheStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a run or step does not exist.
var ErrNotFound = eris.New("store: not found")
