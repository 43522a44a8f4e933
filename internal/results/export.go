package results

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"shapebench/internal/runner"
)

// ExportCSV writes one row per trial, in trial order.
func ExportCSV(res *runner.RunResult, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	// Header
	header := []string{
		"trial", "bandwidth_mbit", "avg_cpu", "duration_s", "samples",
		"peak_cpu", "p50_cpu", "p90_cpu", "p99_cpu", "completed", "exit_code", "started_at",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, rec := range res.Records {
		record := []string{
			strconv.Itoa(rec.Index + 1),
			strconv.Itoa(rec.Bandwidth),
			fmt.Sprintf("%.2f", rec.AvgCPU),
			fmt.Sprintf("%.3f", rec.Duration.Seconds()),
			strconv.Itoa(rec.Samples),
			fmt.Sprintf("%.2f", rec.PeakCPU),
			fmt.Sprintf("%.2f", rec.P50CPU),
			fmt.Sprintf("%.2f", rec.P90CPU),
			fmt.Sprintf("%.2f", rec.P99CPU),
			strconv.FormatBool(rec.Completed),
			strconv.Itoa(rec.ExitCode),
			rec.StartedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportJSON writes the whole run as indented JSON.
func ExportJSON(res *runner.RunResult, filename string) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
