package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
)

func TestDispatchRun(t *testing.T) {
	tests := []struct {
		name   string
		step   string
		from   string
		resume bool
		want   string
	}{
		{name: "all", want: "all"},
		{name: "step by number", step: "2", want: "step:merge"},
		{name: "step by name", step: "Identifier Conversion", want: "step:convert"},
		{name: "from", from: "convert", want: "from:convert"},
		{name: "resume", resume: true, want: "resume"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRunner{}
			report, err := dispatchRun(context.Background(), r, tt.step, tt.from, tt.resume)
			require.NoError(t, err)
			require.NotNil(t, report)
			assert.Equal(t, []string{tt.want}, r.Calls())
		})
	}
}

func TestDispatchRun_InvalidStep(t *testing.T) {
	r := &fakeRunner{}
	_, err := dispatchRun(context.Background(), r, "7", "", false)
	require.Error(t, err)
	assert.Empty(t, r.Calls())

	_, err = dispatchRun(context.Background(), r, "", "publish", false)
	require.Error(t, err)
	assert.Empty(t, r.Calls())
}

func TestDispatchRun_NothingToResume(t *testing.T) {
	r := &fakeRunner{err: pipeline.ErrNothingToResume}
	report, err := dispatchRun(context.Background(), r, "", "", true)
	require.NoError(t, err)
	assert.Nil(t, report)
}

func TestPrintReport(t *testing.T) {
	report := &pipeline.Report{
		RunID:  "run-1",
		Status: model.RunStatusComplete,
		Results: []*pipeline.StageResult{
			{Step: pipeline.StepClassify, Files: 2, Rows: 1500},
			{Step: pipeline.StepMerge, Note: "no input files in data/clean_result", Skipped: pipeline.ErrNoInput},
			{Step: pipeline.StepAggregate, Files: 1, Rows: 12, Outputs: []string{"out/merge_result.csv"}},
		},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "Classification Processing")
	assert.Contains(t, out, "1,500")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "no input files in data/clean_result")
	assert.Contains(t, out, "Output: out/merge_result.csv")
}

func TestElapsed(t *testing.T) {
	assert.Equal(t, "1m5s", elapsed(65*time.Second+300*time.Millisecond))
}
