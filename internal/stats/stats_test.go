package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestSummarizeSamples(t *testing.T) {
	s := Summarize([]float64{5, 6, 5, 7, 5})

	assert.Equal(t, int64(5), s.Count)
	assert.InDelta(t, 5.6, s.Mean, 1e-9)
	assert.InDelta(t, 5.0, s.P50, 0.01)
	assert.InDelta(t, 7.0, s.P99, 0.01)
	assert.Equal(t, 7.0, s.Peak)
}

func TestCPUStatsAboveOneCore(t *testing.T) {
	s := NewCPUStats()
	s.Add(150.5)
	s.Add(249.5)

	sum := s.Summary()
	assert.Equal(t, int64(2), sum.Count)
	assert.InDelta(t, 200.0, sum.Mean, 1e-9)
	assert.InDelta(t, 249.5, sum.P99, 0.5)
}

func TestHistogramClampsNegative(t *testing.T) {
	h := NewSafeHistogram()
	assert.NoError(t, h.RecordCPU(-3))
	assert.Equal(t, int64(1), h.TotalCount())
	assert.Zero(t, h.Max())
}
