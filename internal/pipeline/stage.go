package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
)

// ErrNoInput marks a stage that was skipped because its input folder held
// no tables.
var ErrNoInput = eris.New("pipeline: no input files")

// Stage is one folder-to-folder transform.
type Stage interface {
	Run(ctx context.Context) (*StageResult, error)
}

// StageResult summarises one stage execution.
type StageResult struct {
	Step    Step
	Files   int
	Rows    int
	Outputs []string
	Note    string
	// Skipped is non-nil when the stage did no work; it wraps ErrNoInput.
	Skipped error
}

func skipped(step Step, folder string) *StageResult {
	return &StageResult{
		Step:    step,
		Note:    "no input files in " + folder,
		Skipped: eris.Wrapf(ErrNoInput, "pipeline: %s", folder),
	}
}

// Status returns the ledger status for a successful execution.
func (r *StageResult) Status() model.StepStatus {
	if r.Skipped != nil {
		return model.StepStatusSkipped
	}
	return model.StepStatusComplete
}

// StepResult converts r into its ledger form.
func (r *StageResult) StepResult(d time.Duration) *model.StepResult {
	return &model.StepResult{
		Status:   r.Status(),
		Files:    r.Files,
		Rows:     r.Rows,
		Outputs:  r.Outputs,
		Duration: d.Milliseconds(),
		Note:     r.Note,
	}
}
