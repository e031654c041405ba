package main

import (
	"context"
	"sync"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
)

// fakeRunner records pipeline calls. When release is non-nil every call
// blocks until it is closed.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	release chan struct{}
	report  *pipeline.Report
	err     error
}

func (f *fakeRunner) record(ctx context.Context, call string) (*pipeline.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &pipeline.Report{RunID: "run-" + call, Status: model.RunStatusComplete}, nil
}

func (f *fakeRunner) RunAll(ctx context.Context) (*pipeline.Report, error) {
	return f.record(ctx, "all")
}

func (f *fakeRunner) RunStep(ctx context.Context, step pipeline.Step) (*pipeline.Report, error) {
	return f.record(ctx, "step:"+step.String())
}

func (f *fakeRunner) RunFrom(ctx context.Context, step pipeline.Step) (*pipeline.Report, error) {
	return f.record(ctx, "from:"+step.String())
}

func (f *fakeRunner) Resume(ctx context.Context) (*pipeline.Report, error) {
	return f.record(ctx, "resume")
}

func (f *fakeRunner) AggregatePath() string {
	return "data/metaboanalyst_pubchem/merge_result.csv"
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
