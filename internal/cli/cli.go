// Package cli prints run progress and results for headless use.
package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"shapebench/internal/app"
	"shapebench/internal/config"
	"shapebench/internal/runner"
	"shapebench/internal/shaping"
)

const rule = "======================================================================"

func PrintHeader(w io.Writer, cfg config.Config) {
	fmt.Fprintf(w, "\nSTARTING SHAPEBENCH RUN\n")
	fmt.Fprintf(w, "%s\n", rule)
	fmt.Fprintf(w, "Peer       : %s:%d\n", cfg.Host, cfg.Port)
	fmt.Fprintf(w, "Client     : %s\n", cfg.Client.Command)
	fmt.Fprintf(w, "Bandwidths : %s Mbit/s\n", joinInts(cfg.Bandwidths))
	fmt.Fprintf(w, "Shaping    : %s -> %s (burst %s, latency %s)\n",
		cfg.Shaping.Iface, cfg.Shaping.IFB, cfg.Shaping.Burst, cfg.Shaping.Latency)
	fmt.Fprintf(w, "Sampling   : every %s\n", cfg.Supervisor.Interval)
	fmt.Fprintf(w, "%s\n\n", rule)
}

// Report consumes run events until RunFinished or until events is closed,
// printing one progress line per sample and a result line per trial.
func Report(w io.Writer, events runner.EventChan) {
	for ev := range events {
		switch ev.Kind {
		case runner.TrialStarted:
			fmt.Fprintf(w, "Testing with inbound bandwidth limit: %d Mbit/s\n", ev.Bandwidth)
		case runner.TrialSample:
			pct := float64(ev.Trial) / float64(max(ev.Total, 1))
			fmt.Fprintf(w, "\r%s trial %d/%d | %3d Mbit/s | CPU %6.2f%%",
				progressBar(pct, 20), ev.Trial+1, ev.Total, ev.Bandwidth, ev.CPU)
		case runner.TrialFinished:
			rec := ev.Record
			if rec == nil {
				continue
			}
			fmt.Fprintf(w, "\rInbound Bandwidth: %d Mbit/s | Avg CPU: %.2f%% | Duration: %.2fs%s\n",
				rec.Bandwidth, rec.AvgCPU, rec.Duration.Seconds(), strings.Repeat(" ", 10))
		case runner.RunFinished:
			return
		}
	}
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func PrintSummary(w io.Writer, out app.Outcome, elapsed time.Duration) {
	res := out.Result
	if res == nil {
		return
	}
	fmt.Fprintf(w, "\nRESULTS (run %s)\n", res.ID)
	fmt.Fprintf(w, "%s\n", rule)
	fmt.Fprintf(w, "%-8s %-10s %-10s %-10s %-10s %-8s\n", "Mbit/s", "Avg CPU%", "P90 CPU%", "Peak CPU%", "Duration", "Samples")
	for _, rec := range res.Records {
		fmt.Fprintf(w, "%-8d %-10.2f %-10.2f %-10.2f %-10s %-8d\n",
			rec.Bandwidth, rec.AvgCPU, rec.P90CPU, rec.PeakCPU,
			fmt.Sprintf("%.2fs", rec.Duration.Seconds()), rec.Samples)
	}
	fmt.Fprintf(w, "%s\n", rule)
	fmt.Fprintf(w, "Total time : %s\n", elapsed.Round(time.Second))
	if paths := out.Artifacts.Paths(); len(paths) > 0 {
		fmt.Fprintf(w, "Saved      : %s\n", strings.Join(paths, ", "))
	}
}

// PrintError reports a failed run. Shaping failures also name the step, the
// command and what it printed, so the host can be fixed by hand.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, "Error:", err)
	se, ok := shaping.IsShapingError(err)
	if !ok {
		return
	}
	fmt.Fprintf(w, "  step    : %s\n", se.Step)
	fmt.Fprintf(w, "  command : %s\n", se.Cmd)
	if se.Output != "" {
		fmt.Fprintf(w, "  output  : %s\n", se.Output)
	}
	fmt.Fprintln(w, "  run `shapebench reset` if shaping state was left behind")
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
