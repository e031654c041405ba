package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/table"
)

func completed(step Step) *fakeStage {
	return &fakeStage{res: &StageResult{Step: step, Files: 1, Rows: 2}}
}

func fakePipeline(t *testing.T, stages map[Step]*fakeStage) *Pipeline {
	t.Helper()
	p := New(testConfig(t), newTestStore(t), nil, nil, nil)
	for step, s := range stages {
		p.stages[step] = s
	}
	return p
}

func TestPipeline_RunAll_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.CTS.Targets = []string{"PubChem CID"}
	writeTable(t, cfg.Folders.Source, "sample.txt", "\t",
		[]string{"Name", "InChIKey", "Area"},
		[]string{"Glucose", keyGlucose, "10"},
		[]string{"Unknown", keyAlanine, "3"},
		[]string{"Caffeine", keyCaffeine, "20"},
	)

	cf := new(mockClassyFireClient)
	cf.On("Lookup", mock.Anything, keyGlucose).Return(glucoseEntity(), nil).Once()
	cf.On("Lookup", mock.Anything, keyCaffeine).Return(caffeineEntity(), nil).Once()

	ct := new(mockCTSClient)
	ct.On("ConvertBatch", mock.Anything, "InChIKey", "PubChem CID", mock.Anything).
		Return(map[string]string{keyGlucose: "5793", keyCaffeine: "2519"}, nil).Once()

	st := newTestStore(t)
	p := New(cfg, st, cf, ct, metrics.New())

	report, err := p.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, report.Status)
	require.Len(t, report.Results, 4)

	out := readTable(t, p.AggregatePath())
	require.Equal(t, 3, out.Len())
	// "Name" was normalised to "Title" by the aggregator.
	assert.Equal(t, []string{"Glucose", "Unknown", "Caffeine"}, out.Column("Title"))
	assert.Equal(t, []string{"5793", "", "2519"}, out.Column(ColPubChemCID))
	areaCol := table.Stem(report.Results[2].Outputs[0])
	assert.Equal(t, []string{"10", "3", "20"}, out.Column(areaCol))

	run, err := st.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, model.RunModeAll, run.Mode)
	require.Len(t, run.Steps, 4)
	for i, s := range run.Steps {
		assert.Equal(t, i+1, s.Step)
		assert.Equal(t, model.StepStatusComplete, s.Status)
	}
	assert.Equal(t, "Classification Processing", run.Steps[0].Name)

	cf.AssertExpectations(t)
	ct.AssertExpectations(t)
}

func TestPipeline_RunAll_AbortsOnStageError(t *testing.T) {
	stages := map[Step]*fakeStage{
		StepClassify:  completed(StepClassify),
		StepMerge:     {err: errors.New("malformed table")},
		StepConvert:   completed(StepConvert),
		StepAggregate: completed(StepAggregate),
	}
	p := fakePipeline(t, stages)

	report, err := p.RunAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed table")
	assert.Contains(t, err.Error(), "Data Merging")
	assert.Equal(t, model.RunStatusFailed, report.Status)
	assert.Equal(t, 0, stages[StepConvert].calls)
	assert.Equal(t, 0, stages[StepAggregate].calls)

	run, err := p.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, model.StepStatusFailed, run.Steps[1].Status)
	require.NotNil(t, run.Steps[1].Result)
	assert.Equal(t, "malformed table", run.Steps[1].Result.Error)
}

func TestPipeline_SkippedStepIsNotAnError(t *testing.T) {
	stages := map[Step]*fakeStage{
		StepClassify:  completed(StepClassify),
		StepMerge:     completed(StepMerge),
		StepConvert:   {res: skipped(StepConvert, "final_result")},
		StepAggregate: {res: skipped(StepAggregate, "convert_result")},
	}
	p := fakePipeline(t, stages)

	report, err := p.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, report.Status)

	run, err := p.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	require.Len(t, run.Steps, 4)
	assert.Equal(t, model.StepStatusSkipped, run.Steps[2].Status)
	assert.Equal(t, "no input files in final_result", run.Steps[2].Result.Note)
}

func TestPipeline_RunStep(t *testing.T) {
	stages := map[Step]*fakeStage{
		StepClassify:  completed(StepClassify),
		StepMerge:     completed(StepMerge),
		StepConvert:   completed(StepConvert),
		StepAggregate: completed(StepAggregate),
	}
	p := fakePipeline(t, stages)

	report, err := p.RunStep(context.Background(), StepConvert)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, stages[StepConvert].calls)
	assert.Equal(t, 0, stages[StepClassify].calls)

	run, err := p.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunModeStep, run.Mode)
	assert.Equal(t, 3, run.StartStep)

	_, err = p.RunStep(context.Background(), Step(7))
	assert.Error(t, err)
}

func TestPipeline_RunFrom(t *testing.T) {
	stages := map[Step]*fakeStage{
		StepClassify:  completed(StepClassify),
		StepMerge:     completed(StepMerge),
		StepConvert:   completed(StepConvert),
		StepAggregate: completed(StepAggregate),
	}
	p := fakePipeline(t, stages)

	report, err := p.RunFrom(context.Background(), StepConvert)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, 0, stages[StepClassify].calls)
	assert.Equal(t, 0, stages[StepMerge].calls)
	assert.Equal(t, 1, stages[StepConvert].calls)
	assert.Equal(t, 1, stages[StepAggregate].calls)
}

func TestPipeline_Resume(t *testing.T) {
	merge := &fakeStage{err: errors.New("boom")}
	stages := map[Step]*fakeStage{
		StepClassify:  completed(StepClassify),
		StepMerge:     merge,
		StepConvert:   completed(StepConvert),
		StepAggregate: completed(StepAggregate),
	}
	p := fakePipeline(t, stages)
	ctx := context.Background()

	_, err := p.Resume(ctx)
	assert.ErrorIs(t, err, ErrNothingToResume)

	_, err = p.RunAll(ctx)
	require.Error(t, err)

	step, err := p.ResumeStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, StepMerge, step)

	merge.err = nil
	merge.res = &StageResult{Step: StepMerge}
	report, err := p.Resume(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Results, 3)
	assert.Equal(t, 1, stages[StepClassify].calls)
}

func TestPipeline_DeadlineAbortsRun(t *testing.T) {
	stages := map[Step]*fakeStage{
		StepClassify: {block: true},
		StepMerge:    completed(StepMerge),
	}
	p := fakePipeline(t, stages)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := p.RunAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, stages[StepMerge].calls)

	run, err := p.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
}
