package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
)

func completedReport(outputs ...string) *pipeline.Report {
	return &pipeline.Report{
		RunID:  "run-1",
		Status: model.RunStatusComplete,
		Results: []*pipeline.StageResult{
			{Step: pipeline.StepConvert, Outputs: []string{"convert/a.csv"}},
			{Step: pipeline.StepAggregate, Outputs: outputs},
		},
	}
}

func TestAggregateOutput(t *testing.T) {
	assert.Equal(t, "out/merge_result.csv", aggregateOutput(completedReport("out/merge_result.csv")))
	assert.Empty(t, aggregateOutput(completedReport()))
	assert.Empty(t, aggregateOutput(nil))

	skipped := completedReport("out/merge_result.csv")
	skipped.Results[1].Skipped = pipeline.ErrNoInput
	assert.Empty(t, aggregateOutput(skipped))
}

func TestRunTrigger_Uploads(t *testing.T) {
	r := &fakeRunner{report: completedReport("out/merge_result.csv")}
	var uploaded []string
	trigger := runTrigger(r.RunAll, func(_ context.Context, path string) error {
		uploaded = append(uploaded, path)
		return nil
	})

	require.NoError(t, trigger(context.Background()))
	assert.Equal(t, []string{"all"}, r.Calls())
	assert.Equal(t, []string{"out/merge_result.csv"}, uploaded)
}

func TestRunTrigger_NoUploadWithoutOutput(t *testing.T) {
	r := &fakeRunner{report: completedReport()}
	called := false
	trigger := runTrigger(r.RunAll, func(context.Context, string) error {
		called = true
		return nil
	})

	require.NoError(t, trigger(context.Background()))
	assert.False(t, called)
}

func TestRunTrigger_RunError(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeRunner{err: boom}
	called := false
	trigger := runTrigger(r.RunAll, func(context.Context, string) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, trigger(context.Background()), boom)
	assert.False(t, called)
}

func TestRunTrigger_NilUploader(t *testing.T) {
	r := &fakeRunner{report: completedReport("out/merge_result.csv")}
	require.NoError(t, runTrigger(r.RunAll, nil)(context.Background()))
}

func TestMeteredRun(t *testing.T) {
	r := &fakeRunner{}
	run := meteredRun(r.RunAll, nil, "")
	report, err := run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-all", report.RunID)
}
