package stats

import (
	"math"
	"sync"
)

// Summary is the distribution of one trial's CPU samples.
type Summary struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
	Peak  float64 `json:"peak"`
}

// CPUStats accumulates samples for a single trial. The mean is kept exactly;
// quantiles come from the histogram.
type CPUStats struct {
	mu   sync.Mutex
	sum  float64
	n    int64
	peak float64
	hist *SafeHistogram
}

func NewCPUStats() *CPUStats {
	return &CPUStats{hist: NewSafeHistogram()}
}

func (s *CPUStats) Add(pct float64) {
	s.mu.Lock()
	s.sum += pct
	s.n++
	s.peak = math.Max(s.peak, pct)
	s.mu.Unlock()

	_ = s.hist.RecordCPU(pct)
}

func (s *CPUStats) Summary() Summary {
	s.mu.Lock()
	n, sum, peak := s.n, s.sum, s.peak
	s.mu.Unlock()

	if n == 0 {
		return Summary{}
	}
	return Summary{
		Count: s.hist.TotalCount(),
		Mean:  sum / float64(n),
		P50:   s.hist.Quantile(50),
		P90:   s.hist.Quantile(90),
		P99:   s.hist.Quantile(99),
		Peak:  peak,
	}
}

// Summarize builds a Summary from a finished sample series.
func Summarize(samples []float64) Summary {
	s := NewCPUStats()
	for _, v := range samples {
		s.Add(v)
	}
	return s.Summary()
}
