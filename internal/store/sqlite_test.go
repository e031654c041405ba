package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var glucose = classyfire.Taxonomy{
	Kingdom:           "Organic compounds",
	Superclass:        "Organic oxygen compounds",
	Class:             "Organooxygen compounds",
	Subclass:          "Carbohydrates and carbohydrate conjugates",
	DirectParent:      "Hexoses",
	IntermediateNodes: []string{"Monosaccharides"},
}

// --- Runs ---

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunModeAll, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, model.RunModeAll, got.Mode)
	assert.Equal(t, 1, got.StartStep)
	assert.Empty(t, got.Steps)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_FinishRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunModeFrom, 3)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusFailed, "convert: missing InChIKey column"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "convert: missing InChIKey column", got.Error)

	err = st.FinishRun(ctx, "missing", model.RunStatusComplete, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.CreateRun(ctx, model.RunModeAll, 1)
	require.NoError(t, err)
	second, err := st.CreateRun(ctx, model.RunModeStep, 2)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, first.ID, model.RunStatusFailed, "boom"))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, first.ID, failed[0].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, first.ID, limited[0].ID)
}

// --- Steps ---

func TestSQLite_Steps(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, model.RunModeAll, 1)
	require.NoError(t, err)

	s1, err := st.CreateStep(ctx, run.ID, 1, "Classification Processing")
	require.NoError(t, err)
	require.NoError(t, st.CompleteStep(ctx, s1.ID, &model.StepResult{
		Status: model.StepStatusComplete, Files: 2, Rows: 40, Outputs: []string{"a.csv", "b.csv"}, Duration: 1200,
	}))
	s3, err := st.CreateStep(ctx, run.ID, 3, "Identifier Conversion")
	require.NoError(t, err)
	require.NoError(t, st.CompleteStep(ctx, s3.ID, &model.StepResult{Status: model.StepStatusSkipped, Note: "no input"}))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, 1, got.Steps[0].Step)
	assert.Equal(t, model.StepStatusComplete, got.Steps[0].Status)
	require.NotNil(t, got.Steps[0].Result)
	assert.Equal(t, 40, got.Steps[0].Result.Rows)
	assert.Equal(t, []string{"a.csv", "b.csv"}, got.Steps[0].Result.Outputs)
	assert.Equal(t, model.StepStatusSkipped, got.Steps[1].Status)
	assert.Equal(t, 3, got.LastCompletedStep())

	err = st.CompleteStep(ctx, "missing", &model.StepResult{Status: model.StepStatusComplete})
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Classification cache ---

func TestSQLite_ClassificationCache_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedClassification(ctx, "KEY-1", model.CacheStatusFound, glucose, time.Hour))

	e, err := st.GetCachedClassification(ctx, "KEY-1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, model.CacheStatusFound, e.Status)
	assert.Equal(t, glucose, e.Taxonomy)
	assert.True(t, e.ExpiresAt.After(e.CachedAt))
}

func TestSQLite_ClassificationCache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	e, err := st.GetCachedClassification(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestSQLite_ClassificationCache_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedClassification(ctx, "KEY-1", model.CacheStatusMissing, classyfire.Taxonomy{}, time.Hour))
	require.NoError(t, st.SetCachedClassification(ctx, "KEY-1", model.CacheStatusFound, glucose, time.Hour))

	e, err := st.GetCachedClassification(ctx, "KEY-1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, model.CacheStatusFound, e.Status)
}

func TestSQLite_ClassificationCache_ExpiredAndPrune(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedClassification(ctx, "OLD", model.CacheStatusFound, glucose, -time.Hour))
	require.NoError(t, st.SetCachedClassification(ctx, "FRESH", model.CacheStatusMissing, classyfire.Taxonomy{}, time.Hour))

	e, err := st.GetCachedClassification(ctx, "OLD")
	require.NoError(t, err)
	assert.Nil(t, e)

	stats, err := st.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.CacheStats{Total: 2, Found: 1, Missing: 1, Expired: 1}, *stats)

	n, err := st.DeleteExpiredClassifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err = st.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestSQLite_ImportClassifications(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	n, err := st.ImportClassifications(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = st.ImportClassifications(ctx, []model.CacheEntry{
		{InChIKey: "A", Status: model.CacheStatusFound, Taxonomy: glucose, CachedAt: now, ExpiresAt: now.Add(time.Hour)},
		{InChIKey: "B", Status: model.CacheStatusFound, Taxonomy: classyfire.Taxonomy{Kingdom: "Organic compounds"}, CachedAt: now, ExpiresAt: now.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	e, err := st.GetCachedClassification(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Organic compounds", e.Taxonomy.Kingdom)
}

func TestSQLite_ImportKeepsNewerEntry(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCachedClassification(ctx, "A", model.CacheStatusFound, glucose, time.Hour))

	old := time.Now().UTC().Add(-48 * time.Hour)
	n, err := st.ImportClassifications(ctx, []model.CacheEntry{
		{InChIKey: "A", Status: model.CacheStatusMissing, CachedAt: old, ExpiresAt: old.Add(72 * time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	e, err := st.GetCachedClassification(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, model.CacheStatusFound, e.Status)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}
