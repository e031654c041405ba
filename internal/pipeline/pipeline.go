// Package pipeline implements the four metabolomics processing stages
// (classify, merge, convert, aggregate) and the orchestrator that runs
// them in order and records every run in the ledger.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/config"
	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/store"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/cts"
)

// ErrNothingToResume is returned by Resume when no failed run exists.
var ErrNothingToResume = eris.New("pipeline: no failed run to resume")

// Pipeline sequences the stages and records runs in the store.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	metrics *metrics.Metrics
	stages  map[Step]Stage
}

// New creates a Pipeline with all four stages. m may be nil.
func New(cfg *config.Config, st store.Store, cf classyfire.Client, ct cts.Client, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   st,
		metrics: m,
		stages: map[Step]Stage{
			StepClassify:  NewClassifier(cfg, cf, st, m),
			StepMerge:     NewMerger(cfg),
			StepConvert:   NewConverter(cfg, ct, m),
			StepAggregate: NewAggregator(cfg),
		},
	}
}

// Report is the outcome of one orchestrated run.
type Report struct {
	RunID   string
	Status  model.RunStatus
	Results []*StageResult
}

// RunAll runs steps 1 to 4. The first stage error aborts the run.
func (p *Pipeline) RunAll(ctx context.Context) (*Report, error) {
	return p.execute(ctx, model.RunModeAll, Steps)
}

// RunStep runs a single step.
func (p *Pipeline) RunStep(ctx context.Context, step Step) (*Report, error) {
	if !step.Valid() {
		return nil, eris.Errorf("pipeline: invalid step %d", step)
	}
	return p.execute(ctx, model.RunModeStep, []Step{step})
}

// RunFrom runs step and every step after it.
func (p *Pipeline) RunFrom(ctx context.Context, step Step) (*Report, error) {
	if !step.Valid() {
		return nil, eris.Errorf("pipeline: invalid step %d", step)
	}
	return p.execute(ctx, model.RunModeFrom, Steps[step-1:])
}

// ResumeStep returns the step a resumed run starts at: the failed step of
// the most recent failed run, or the step after its last completed one.
func (p *Pipeline) ResumeStep(ctx context.Context) (Step, error) {
	runs, err := p.store.ListRuns(ctx, store.RunFilter{Status: model.RunStatusFailed, Limit: 1})
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: find failed run")
	}
	if len(runs) == 0 {
		return 0, ErrNothingToResume
	}
	run, err := p.store.GetRun(ctx, runs[0].ID)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: load failed run")
	}

	for _, s := range run.Steps {
		if s.Status == model.StepStatusFailed {
			return Step(s.Step), nil
		}
	}
	next := Step(max(run.LastCompletedStep()+1, run.StartStep, int(StepClassify)))
	if !next.Valid() {
		return 0, ErrNothingToResume
	}
	return next, nil
}

// Resume continues the most recent failed run.
func (p *Pipeline) Resume(ctx context.Context) (*Report, error) {
	step, err := p.ResumeStep(ctx)
	if err != nil {
		return nil, err
	}
	zap.L().Info("pipeline: resuming", zap.Int("step", int(step)), zap.String("name", step.Name()))
	return p.RunFrom(ctx, step)
}

func (p *Pipeline) execute(ctx context.Context, mode model.RunMode, steps []Step) (*Report, error) {
	if timeout := p.cfg.Pipeline.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	// Ledger writes must land even after the run context has expired.
	ledgerCtx := context.WithoutCancel(ctx)

	run, err := p.store.CreateRun(ledgerCtx, mode, int(steps[0]))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("mode", string(mode)))
	log.Info("pipeline: run started", zap.Int("start_step", int(steps[0])))

	report := &Report{RunID: run.ID, Status: model.RunStatusRunning}
	for _, step := range steps {
		res, stepErr := p.runStep(ctx, ledgerCtx, run.ID, step, log)
		if res != nil {
			report.Results = append(report.Results, res)
		}
		if stepErr != nil {
			report.Status = model.RunStatusFailed
			err := eris.Wrapf(stepErr, "pipeline: step %d (%s)", step, step.Name())
			if finishErr := p.store.FinishRun(ledgerCtx, run.ID, model.RunStatusFailed, err.Error()); finishErr != nil {
				log.Warn("pipeline: failed to record run failure", zap.Error(finishErr))
			}
			log.Error("pipeline: run failed", zap.Error(err))
			return report, err
		}
	}

	report.Status = model.RunStatusComplete
	if err := p.store.FinishRun(ledgerCtx, run.ID, model.RunStatusComplete, ""); err != nil {
		log.Warn("pipeline: failed to record run completion", zap.Error(err))
	}
	p.metrics.MarkSuccess(time.Now())
	log.Info("pipeline: run complete", zap.Int("steps", len(steps)))
	return report, nil
}

func (p *Pipeline) runStep(ctx, ledgerCtx context.Context, runID string, step Step, log *zap.Logger) (*StageResult, error) {
	stage, ok := p.stages[step]
	if !ok {
		return nil, eris.Errorf("pipeline: no stage for step %d", step)
	}

	rec, err := p.store.CreateStep(ledgerCtx, runID, int(step), step.Name())
	if err != nil {
		log.Warn("pipeline: failed to create step", zap.Int("step", int(step)), zap.Error(err))
	}

	start := time.Now()
	res, runErr := stage.Run(ctx)
	duration := time.Since(start)

	var result *model.StepResult
	if runErr != nil {
		result = &model.StepResult{
			Status:   model.StepStatusFailed,
			Duration: duration.Milliseconds(),
			Error:    runErr.Error(),
		}
		log.Error("pipeline: step failed",
			zap.Int("step", int(step)),
			zap.String("name", step.Name()),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.Error(runErr),
		)
	} else {
		result = res.StepResult(duration)
		log.Info("pipeline: step "+string(result.Status),
			zap.Int("step", int(step)),
			zap.String("name", step.Name()),
			zap.Int("files", res.Files),
			zap.Int("rows", res.Rows),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	}

	if rec != nil {
		if err := p.store.CompleteStep(ledgerCtx, rec.ID, result); err != nil {
			log.Warn("pipeline: failed to complete step", zap.Int("step", int(step)), zap.Error(err))
		}
	}
	p.metrics.ObserveStep(step.String(), string(result.Status), duration, result.Rows)
	return res, runErr
}

// AggregatePath returns the path the aggregation stage writes to.
func (p *Pipeline) AggregatePath() string {
	if a, ok := p.stages[StepAggregate].(*Aggregator); ok {
		return a.OutputPath()
	}
	return NewAggregator(p.cfg).OutputPath()
}
