package results

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shapebench/internal/metrics"
	"shapebench/internal/runner"
)

func twoTrials() *runner.RunResult {
	return &runner.RunResult{
		ID:   "0190a6e0-0000-7000-8000-000000000000",
		Host: "10.0.0.2",
		Port: 4433,
		Records: []runner.TrialRecord{
			{Index: 0, Bandwidth: 10, AvgCPU: 5.6, Duration: 5 * time.Second, Samples: 5, Completed: true},
			{Index: 1, Bandwidth: 20, AvgCPU: 0, Duration: 0},
		},
	}
}

func TestPersistWritesArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	a := New(Options{Dir: dir, Prefix: "bench"}, metrics.NewMetricCollector())

	art, err := a.Persist(context.Background(), twoTrials())
	require.NoError(t, err)
	assert.Len(t, art.Paths(), 6)

	cpus, err := LoadArray(filepath.Join(dir, "cpu_opt.npy"))
	require.NoError(t, err)
	assert.Equal(t, []float64{5.6, 0.0}, cpus)

	durs, err := LoadArray(filepath.Join(dir, "dur_opt.npy"))
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 0}, durs)

	raw, err := os.ReadFile(filepath.Join(dir, "graph.png"))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(raw))
	assert.NoError(t, err)

	f, err := os.Open(art.CSV)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"1", "10", "5.60", "5.000"}, rows[1][:4])
	assert.Equal(t, "20", rows[2][1])

	data, err := os.ReadFile(art.JSON)
	require.NoError(t, err)
	var back runner.RunResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, twoTrials().ID, back.ID)
	assert.Len(t, back.Records, 2)

	prom, err := os.ReadFile(art.Metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "shapebench_trial_avg_cpu_percent")
}

func TestPersistEmptyRun(t *testing.T) {
	dir := t.TempDir()
	a := New(Options{Dir: dir}, nil)

	art, err := a.Persist(context.Background(), &runner.RunResult{ID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, art.Metrics)

	cpus, err := LoadArray(art.CPU)
	require.NoError(t, err)
	assert.Empty(t, cpus)
}

func TestPersistReportsIOErrors(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	a := New(Options{Dir: filepath.Join(blocker, "sub")}, nil)
	_, err := a.Persist(context.Background(), twoTrials())
	assert.Error(t, err)
}

func TestSaveArrayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.npy")
	require.NoError(t, SaveArray(path, []float64{1.5, 2.25, 0}))

	got, err := LoadArray(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 2.25, 0}, got)
}
