package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep(t *testing.T) {
	tests := []struct {
		in   string
		want Step
	}{
		{"1", StepClassify},
		{" 4 ", StepAggregate},
		{"merge", StepMerge},
		{"CONVERT", StepConvert},
		{"Data Merging", StepMerge},
		{"final aggregation", StepAggregate},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStep(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStep_Invalid(t *testing.T) {
	for _, in := range []string{"0", "5", "-1", "", "publish"} {
		_, err := ParseStep(in)
		assert.Error(t, err, in)
	}
}

func TestStep_Names(t *testing.T) {
	assert.Equal(t, "Classification Processing", StepClassify.Name())
	assert.Equal(t, "Data Merging", StepMerge.Name())
	assert.Equal(t, "Identifier Conversion", StepConvert.Name())
	assert.Equal(t, "Final Aggregation", StepAggregate.Name())
	assert.Equal(t, "convert", StepConvert.String())
	assert.Equal(t, "Step 9", Step(9).Name())
	assert.False(t, Step(9).Valid())
}
