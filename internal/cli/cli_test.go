package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"shapebench/internal/app"
	"shapebench/internal/config"
	"shapebench/internal/results"
	"shapebench/internal/runner"
	"shapebench/internal/shaping"
)

func TestReportPrintsTrialLines(t *testing.T) {
	events := make(runner.EventChan, 8)
	rec := runner.TrialRecord{Bandwidth: 10, AvgCPU: 5.6, Duration: 3 * time.Second}
	events <- runner.Event{Kind: runner.TrialStarted, Total: 1, Bandwidth: 10}
	events <- runner.Event{Kind: runner.TrialSample, Total: 1, Bandwidth: 10, CPU: 5}
	events <- runner.Event{Kind: runner.TrialFinished, Total: 1, Bandwidth: 10, Record: &rec}
	events <- runner.Event{Kind: runner.RunFinished, Total: 1}

	var buf bytes.Buffer
	Report(&buf, events)

	out := buf.String()
	assert.Contains(t, out, "Testing with inbound bandwidth limit: 10 Mbit/s")
	assert.Contains(t, out, "CPU   5.00%")
	assert.Contains(t, out, "Inbound Bandwidth: 10 Mbit/s | Avg CPU: 5.60% | Duration: 3.00s")
}

func TestReportStopsOnClose(t *testing.T) {
	events := make(runner.EventChan)
	close(events)
	Report(&bytes.Buffer{}, events)
}

func TestPrintHeaderAndSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintHeader(&buf, config.Config{Host: "10.0.0.2", Port: 4433, Bandwidths: []int{10, 20}})
	assert.Contains(t, buf.String(), "10, 20 Mbit/s")

	buf.Reset()
	PrintSummary(&buf, app.Outcome{
		Result: &runner.RunResult{ID: "abc", Records: []runner.TrialRecord{
			{Bandwidth: 20, AvgCPU: 1.25, Duration: 1500 * time.Millisecond, Samples: 2},
		}},
		Artifacts: results.Artifacts{Chart: "graph.png"},
	}, 2*time.Second)
	assert.Contains(t, buf.String(), "run abc")
	assert.Contains(t, buf.String(), "1.50s")
	assert.Contains(t, buf.String(), "graph.png")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[██--]", progressBar(0.5, 4))
	assert.Equal(t, "[████]", progressBar(2, 4))
	assert.Equal(t, "[----]", progressBar(-1, 4))
}

func TestPrintErrorNamesShapingStep(t *testing.T) {
	err := errors.Wrap(&shaping.ShapingError{
		Step:   "add tbf",
		Cmd:    "tc qdisc add dev ifb0 root tbf rate 10mbit burst 10k latency 1000ms",
		Output: "RTNETLINK answers: Operation not permitted",
		Err:    errors.New("exit status 2"),
	}, "trial 1 (10 Mbit/s)")

	var buf bytes.Buffer
	PrintError(&buf, err)
	out := buf.String()
	assert.Contains(t, out, "Error: trial 1 (10 Mbit/s)")
	assert.Contains(t, out, "step    : add tbf")
	assert.Contains(t, out, "output  : RTNETLINK answers: Operation not permitted")
	assert.Contains(t, out, "shapebench reset")

	buf.Reset()
	PrintError(&buf, errors.New("host is required"))
	assert.Equal(t, "Error: host is required\n", buf.String())
}
