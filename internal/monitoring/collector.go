// Package monitoring summarises the run ledger for operators.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/store"
)

// Snapshot is a point-in-time view of pipeline run health.
type Snapshot struct {
	Total    int     `json:"total"`
	Complete int     `json:"complete"`
	Failed   int     `json:"failed"`
	Running  int     `json:"running"`
	FailRate float64 `json:"fail_rate"`

	// AvgDuration covers completed runs only.
	AvgDuration time.Duration `json:"avg_duration_ns"`

	// StepFailures counts failed steps by step number.
	StepFailures map[int]int `json:"step_failures,omitempty"`

	LastSuccess   time.Time `json:"last_success,omitzero"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the subset of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListSteps(ctx context.Context, runID string) ([]model.StepRun, error)
}

// maxRuns bounds how many runs a snapshot inspects.
const maxRuns = 10000

// Collector gathers run statistics from the ledger.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new Collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect summarises runs created within the lookback window. A window of
// zero or less covers the whole ledger.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var cutoff time.Time
	if lookbackHours > 0 {
		cutoff = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}

	var totalDur time.Duration
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.Total++

		switch r.Status {
		case model.RunStatusComplete:
			snap.Complete++
			totalDur += r.UpdatedAt.Sub(r.CreatedAt)
			if r.UpdatedAt.After(snap.LastSuccess) {
				snap.LastSuccess = r.UpdatedAt
			}
		case model.RunStatusFailed:
			snap.Failed++
			if err := c.countStepFailures(ctx, r.ID, snap); err != nil {
				return nil, err
			}
		case model.RunStatusRunning:
			snap.Running++
		}
	}

	if finished := snap.Complete + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if snap.Complete > 0 {
		snap.AvgDuration = totalDur / time.Duration(snap.Complete)
	}
	return snap, nil
}

func (c *Collector) countStepFailures(ctx context.Context, runID string, snap *Snapshot) error {
	steps, err := c.runs.ListSteps(ctx, runID)
	if err != nil {
		return eris.Wrapf(err, "monitoring: list steps for run %s", runID)
	}
	for _, s := range steps {
		if s.Status != model.StepStatusFailed {
			continue
		}
		if snap.StepFailures == nil {
			snap.StepFailures = make(map[int]int)
		}
		snap.StepFailures[s.Step]++
	}
	return nil
}
