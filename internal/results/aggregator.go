// Package results persists a finished run: NumPy arrays of the two series, a
// two-panel chart, and tabular exports.
package results

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"shapebench/internal/logger"
	"shapebench/internal/metrics"
	"shapebench/internal/runner"
)

type Options struct {
	Dir          string
	Prefix       string
	CPUFile      string
	DurationFile string
	ChartFile    string
}

// Artifacts lists the files one Persist call wrote.
type Artifacts struct {
	CPU      string
	Duration string
	Chart    string
	CSV      string
	JSON     string
	Metrics  string
}

func (a Artifacts) Paths() []string {
	var out []string
	for _, p := range []string{a.CPU, a.Duration, a.Chart, a.CSV, a.JSON, a.Metrics} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type Aggregator struct {
	opts    Options
	metrics *metrics.MetricCollector
}

// New returns an Aggregator. mc may be nil to skip the metrics textfile.
func New(opts Options, mc *metrics.MetricCollector) *Aggregator {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Prefix == "" {
		opts.Prefix = "shapebench"
	}
	if opts.CPUFile == "" {
		opts.CPUFile = "cpu_opt.npy"
	}
	if opts.DurationFile == "" {
		opts.DurationFile = "dur_opt.npy"
	}
	if opts.ChartFile == "" {
		opts.ChartFile = "graph.png"
	}
	return &Aggregator{opts: opts, metrics: mc}
}

func (a *Aggregator) path(name string) string {
	return filepath.Join(a.opts.Dir, name)
}

// Persist writes every artifact for res. Series are in trial order; only I/O
// errors are returned.
func (a *Aggregator) Persist(ctx context.Context, res *runner.RunResult) (Artifacts, error) {
	log := logger.Logger(ctx)
	if err := os.MkdirAll(a.opts.Dir, 0755); err != nil {
		return Artifacts{}, errors.Wrap(err, "create results dir")
	}

	bws, cpus, durs := res.Bandwidths(), res.CPUSeries(), res.DurationSeries()
	var art Artifacts

	art.CPU = a.path(a.opts.CPUFile)
	if err := SaveArray(art.CPU, cpus); err != nil {
		return art, err
	}
	art.Duration = a.path(a.opts.DurationFile)
	if err := SaveArray(art.Duration, durs); err != nil {
		return art, err
	}

	art.Chart = a.path(a.opts.ChartFile)
	if err := RenderChart(art.Chart, bws, cpus, durs); err != nil {
		return art, err
	}

	art.CSV = a.path(a.opts.Prefix + ".csv")
	if err := ExportCSV(res, art.CSV); err != nil {
		return art, errors.Wrapf(err, "export %s", art.CSV)
	}
	art.JSON = a.path(a.opts.Prefix + "_summary.json")
	if err := ExportJSON(res, art.JSON); err != nil {
		return art, errors.Wrapf(err, "export %s", art.JSON)
	}

	if a.metrics != nil {
		a.metrics.ObserveRun(res)
		art.Metrics = a.path(a.opts.Prefix + ".prom")
		if err := a.metrics.WriteTextfile(art.Metrics); err != nil {
			return art, err
		}
	}

	log.Info().Strs("files", art.Paths()).Msg("results saved")
	return art, nil
}
