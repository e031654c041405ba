package pipeline

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Step addresses one pipeline stage by its position.
type Step int

const (
	StepClassify  Step = 1
	StepMerge     Step = 2
	StepConvert   Step = 3
	StepAggregate Step = 4
)

// Steps lists every step in execution order.
var Steps = []Step{StepClassify, StepMerge, StepConvert, StepAggregate}

var stepNames = map[Step]string{
	StepClassify:  "Classification Processing",
	StepMerge:     "Data Merging",
	StepConvert:   "Identifier Conversion",
	StepAggregate: "Final Aggregation",
}

var stepSlugs = map[Step]string{
	StepClassify:  "classify",
	StepMerge:     "merge",
	StepConvert:   "convert",
	StepAggregate: "aggregate",
}

// Valid reports whether s is one of the four steps.
func (s Step) Valid() bool {
	return s >= StepClassify && s <= StepAggregate
}

// Name returns the display name, e.g. "Data Merging".
func (s Step) Name() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "Step " + strconv.Itoa(int(s))
}

// String returns the short name used in logs, metrics and URLs.
func (s Step) String() string {
	if n, ok := stepSlugs[s]; ok {
		return n
	}
	return strconv.Itoa(int(s))
}

// ParseStep accepts a step number ("2"), a short name ("merge") or a
// display name ("Data Merging"), case-insensitively.
func ParseStep(v string) (Step, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		s := Step(n)
		if !s.Valid() {
			return 0, eris.Errorf("pipeline: invalid step number %d (want 1-4)", n)
		}
		return s, nil
	}
	for _, s := range Steps {
		if strings.EqualFold(v, stepSlugs[s]) || strings.EqualFold(v, stepNames[s]) {
			return s, nil
		}
	}
	return 0, eris.Errorf("pipeline: unknown step %q", v)
}
