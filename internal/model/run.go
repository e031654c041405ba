// Package model defines the records shared by the pipeline, the store and
// the HTTP API.
package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunMode records how a run was started.
type RunMode string

const (
	RunModeAll  RunMode = "all"  // steps 1→4
	RunModeStep RunMode = "step" // a single step
	RunModeFrom RunMode = "from" // a step and everything after it
)

// Run is one orchestrated execution of the pipeline.
type Run struct {
	ID        string    `json:"id"`
	Mode      RunMode   `json:"mode"`
	StartStep int       `json:"start_step"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Steps     []StepRun `json:"steps,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepStatus represents the outcome of a single step execution.
type StepStatus string

const (
	StepStatusRunning  StepStatus = "running"
	StepStatusComplete StepStatus = "complete"
	StepStatusSkipped  StepStatus = "skipped"
	StepStatusFailed   StepStatus = "failed"
)

// StepRun is one step execution within a run.
type StepRun struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Step      int         `json:"step"`
	Name      string      `json:"name"`
	Status    StepStatus  `json:"status"`
	Result    *StepResult `json:"result,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}

// StepResult holds the outcome of a step.
type StepResult struct {
	Status   StepStatus `json:"status"`
	Files    int        `json:"files"`
	Rows     int        `json:"rows"`
	Outputs  []string   `json:"outputs,omitempty"`
	Duration int64      `json:"duration_ms"`
	Note     string     `json:"note,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// LastCompletedStep returns the highest step number that completed or was
// skipped, or 0.
func (r *Run) LastCompletedStep() int {
	last := 0
	for _, s := range r.Steps {
		if (s.Status == StepStatusComplete || s.Status == StepStatusSkipped) && s.Step > last {
			last = s.Step
		}
	}
	return last
}
