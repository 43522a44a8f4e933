package stats

import (
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// cpuScale stores CPU percentages as hundredths of a percent.
const cpuScale = 100

// SafeHistogram is a thread-safe hdrhistogram over CPU percentages.
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 0.01% up to 256 saturated cores, 3 significant figures
	h := hdrhistogram.New(1, 256*100*cpuScale, 3)
	return &SafeHistogram{hist: h}
}

// RecordCPU records one utilisation sample in percent.
func (h *SafeHistogram) RecordCPU(pct float64) error {
	if pct < 0 {
		pct = 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.RecordValue(int64(pct*cpuScale + 0.5))
}

// Quantile returns the CPU percentage at q (0-100).
func (h *SafeHistogram) Quantile(q float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.ValueAtQuantile(q)) / cpuScale
}

func (h *SafeHistogram) Max() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return float64(h.hist.Max()) / cpuScale
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}
