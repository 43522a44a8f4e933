// Package metrics exposes finished trials as Prometheus metrics, written to a
// node_exporter textfile.
package metrics

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"shapebench/internal/runner"
)

const namespace = "shapebench"

// Trials are labelled by position as well as rate; a rate may repeat.
var trialLabels = []string{"trial", "bandwidth_mbit"}

var (
	avgCPUDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "trial", "avg_cpu_percent"),
		"Mean CPU utilisation of the transfer client during the trial.",
		trialLabels, nil,
	)
	durationDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "trial", "duration_seconds"),
		"Wall-clock time from client spawn to end of observation.",
		trialLabels, nil,
	)
	samplesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "trial", "cpu_samples"),
		"Number of CPU samples taken during the trial.",
		trialLabels, nil,
	)
	peakDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "trial", "peak_cpu_percent"),
		"Highest CPU sample of the trial.",
		trialLabels, nil,
	)
)

// MetricCollector holds the records of the latest run, keyed by trial index,
// and a count of its trials by outcome.
type MetricCollector struct {
	mu      sync.Mutex
	run     string
	records map[int]runner.TrialRecord // by trial index

	trials *prometheus.CounterVec
}

func NewMetricCollector() *MetricCollector {
	return &MetricCollector{
		records: make(map[int]runner.TrialRecord),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Trials finished, by outcome.",
		}, []string{"outcome"}),
	}
}

// Outcome labels a trial: completed (sentinel seen) or exited.
func Outcome(rec runner.TrialRecord) string {
	if rec.Completed {
		return "completed"
	}
	return "exited"
}

func (c *MetricCollector) UpdateMetrics(rec runner.TrialRecord) {
	c.mu.Lock()
	c.records[rec.Index] = rec
	c.mu.Unlock()
	c.trials.WithLabelValues(Outcome(rec)).Inc()
}

// ObserveRun replaces the collector state, outcome counts included, with a
// whole run.
func (c *MetricCollector) ObserveRun(res *runner.RunResult) {
	c.mu.Lock()
	c.run = res.ID
	c.records = make(map[int]runner.TrialRecord, len(res.Records))
	c.mu.Unlock()
	c.trials.Reset()
	for _, rec := range res.Records {
		c.UpdateMetrics(rec)
	}
}

func (c *MetricCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- avgCPUDesc
	ch <- durationDesc
	ch <- samplesDesc
	ch <- peakDesc
	c.trials.Describe(ch)
}

func (c *MetricCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, rec := range c.records {
		trial, bw := strconv.Itoa(idx+1), strconv.Itoa(rec.Bandwidth)
		ch <- prometheus.MustNewConstMetric(avgCPUDesc, prometheus.GaugeValue, rec.AvgCPU, trial, bw)
		ch <- prometheus.MustNewConstMetric(durationDesc, prometheus.GaugeValue, rec.Duration.Seconds(), trial, bw)
		ch <- prometheus.MustNewConstMetric(samplesDesc, prometheus.GaugeValue, float64(rec.Samples), trial, bw)
		ch <- prometheus.MustNewConstMetric(peakDesc, prometheus.GaugeValue, rec.PeakCPU, trial, bw)
	}
	c.trials.Collect(ch)
}

// Registry returns a dedicated registry carrying only this collector.
func (c *MetricCollector) Registry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, errors.Wrap(err, "register collector")
	}
	return reg, nil
}

// WriteTextfile writes the metrics in the text exposition format, atomically.
func (c *MetricCollector) WriteTextfile(path string) error {
	reg, err := c.Registry()
	if err != nil {
		return err
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, reg), "write %s", path)
}
