package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweep(n int) []StepResult {
	results := make([]StepResult, n)
	for i := range results {
		results[i] = StepResult{Code: i, ResistorLoad: 220}
	}
	return results
}

func TestDownsample_NoDownsampling(t *testing.T) {
	results := sweep(3)

	got := Downsample(nil, results, 10)
	assert.Equal(t, results, got)

	dst := make([]StepResult, 0, 10)
	got = Downsample(dst, results, 10)
	assert.Equal(t, results, got)
	assert.Equal(t, cap(dst), cap(got), "dst is reused")
}

func TestDownsample_WithDownsampling(t *testing.T) {
	results := sweep(1024)

	got := Downsample(nil, results, 11)
	require.Len(t, got, 11)
	assert.Equal(t, 0, got[0].Code)
	assert.Equal(t, 1023, got[10].Code)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Code, got[i-1].Code)
	}
}

func TestDownsample_DestinationReuse(t *testing.T) {
	dst := make([]StepResult, 0, 10)
	first := Downsample(dst, sweep(2), 10)
	second := Downsample(first, sweep(100), 10)
	require.Len(t, second, 10)
	assert.Equal(t, cap(first), cap(second))
}

func TestDownsample_Edges(t *testing.T) {
	assert.Empty(t, Downsample(nil, nil, 10))
	assert.Empty(t, Downsample(nil, sweep(5), 0))

	got := Downsample(nil, sweep(5), 1)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Code)
}
