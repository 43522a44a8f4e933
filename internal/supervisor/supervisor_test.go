package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSentinel = "Time taken to receive the file"

type scriptedSampler struct {
	trackErr error
	values   []float64
	tracker  *scriptedTracker
}

func (s *scriptedSampler) Track(int) (Tracker, error) {
	if s.trackErr != nil {
		return nil, s.trackErr
	}
	s.tracker = &scriptedTracker{values: s.values}
	return s.tracker, nil
}

type scriptedTracker struct {
	mu     sync.Mutex
	values []float64
	calls  int
}

func (t *scriptedTracker) Sample() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if len(t.values) == 0 {
		return 1, nil
	}
	v := t.values[0]
	t.values = t.values[1:]
	return v, nil
}

func shell(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

// manualTicks replaces the wall-clock ticker with one the test drives.
func manualTicks(s *Supervisor) chan time.Time {
	ticks := make(chan time.Time)
	s.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}
	return ticks
}

func TestRunAndObserveFastExit(t *testing.T) {
	sampler, err := NewProcSampler("")
	require.NoError(t, err)
	s := New(Options{Interval: time.Second, Sentinel: testSentinel, WatchStderr: true}, sampler)

	obs, err := s.RunAndObserve(context.Background(), Command{Path: "/bin/true"}, nil)
	require.NoError(t, err)
	assert.Zero(t, obs.AvgCPU)
	assert.Empty(t, obs.Samples)
	assert.False(t, obs.Completed)
	assert.Less(t, obs.Duration, 500*time.Millisecond)
}

func TestRunAndObserveStopsOnSentinel(t *testing.T) {
	flag := filepath.Join(t.TempDir(), "go")
	sampler := &scriptedSampler{values: []float64{5, 6, 5, 7, 5}}
	s := New(Options{Interval: time.Hour, Grace: time.Second, Sentinel: testSentinel, WatchStderr: true}, sampler)
	ticks := manualTicks(s)

	go func() {
		for i := 0; i < 5; i++ {
			ticks <- time.Now()
		}
		_ = os.WriteFile(flag, nil, 0o644)
	}()

	script := fmt.Sprintf(`while [ ! -f %s ]; do sleep 0.01; done
echo "2024-01-01 00:00:00,000 - INFO - %s: 3.20 s" >&2
sleep 30`, flag, testSentinel)

	var seen []float64
	obs, err := s.RunAndObserve(context.Background(), shell(script), func(cpu float64) {
		seen = append(seen, cpu)
	})
	require.NoError(t, err)
	assert.True(t, obs.Completed)
	assert.False(t, obs.Vanished)
	assert.Equal(t, []float64{5, 6, 5, 7, 5}, obs.Samples)
	assert.Equal(t, obs.Samples, seen)
	assert.InDelta(t, 5.6, obs.AvgCPU, 1e-9)
	assert.Less(t, obs.Duration, 10*time.Second, "client must be terminated, not waited for")
}

func TestRunAndObserveIgnoresStderrWhenDisabled(t *testing.T) {
	sampler := &scriptedSampler{}
	s := New(Options{Interval: time.Hour, Sentinel: testSentinel}, sampler)

	script := fmt.Sprintf(`echo "%s" >&2; sleep 0.3`, testSentinel)
	obs, err := s.RunAndObserve(context.Background(), shell(script), nil)
	require.NoError(t, err)
	assert.False(t, obs.Completed)
	assert.GreaterOrEqual(t, obs.Duration, 250*time.Millisecond)
}

func TestRunAndObserveSentinelRightBeforeExit(t *testing.T) {
	sampler := &scriptedSampler{}
	s := New(Options{Interval: time.Hour, Sentinel: testSentinel}, sampler)

	obs, err := s.RunAndObserve(context.Background(), shell("echo '"+testSentinel+"'"), nil)
	require.NoError(t, err)
	assert.True(t, obs.Completed)
	assert.Zero(t, obs.ExitCode)
}

func TestRunAndObserveKillsClientIgnoringTerm(t *testing.T) {
	sampler := &scriptedSampler{}
	s := New(Options{Interval: time.Hour, Grace: 100 * time.Millisecond, Sentinel: testSentinel}, sampler)

	script := fmt.Sprintf(`trap '' TERM; echo '%s'; sleep 30`, testSentinel)
	obs, err := s.RunAndObserve(context.Background(), shell(script), nil)
	require.NoError(t, err)
	assert.True(t, obs.Completed)
	assert.Equal(t, -1, obs.ExitCode, "killed by signal")
}

func TestRunAndObserveSampleCountTracksDuration(t *testing.T) {
	sampler, err := NewProcSampler("")
	require.NoError(t, err)
	s := New(Options{Interval: 100 * time.Millisecond, Sentinel: testSentinel}, sampler)

	obs, err := s.RunAndObserve(context.Background(), shell("sleep 1"), nil)
	require.NoError(t, err)
	expected := obs.Duration.Seconds() / 0.1
	assert.InDelta(t, expected, float64(len(obs.Samples)), 2)
	for _, v := range obs.Samples {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestRunAndObserveVanishedBeforeBaseline(t *testing.T) {
	sampler := &scriptedSampler{trackErr: errors.Wrap(ErrProcessVanished, "pid 1")}
	s := New(Options{Interval: 10 * time.Millisecond, Grace: time.Second}, sampler)

	obs, err := s.RunAndObserve(context.Background(), shell("sleep 30"), nil)
	require.NoError(t, err)
	assert.True(t, obs.Vanished)
	assert.Zero(t, obs.AvgCPU)
	assert.Less(t, obs.Duration, time.Second)
}

type vanishingTracker struct{ n int }

func (v *vanishingTracker) Sample() (float64, error) {
	v.n++
	if v.n > 2 {
		return 0, ErrProcessVanished
	}
	return 10, nil
}

type vanishingSampler struct{}

func (vanishingSampler) Track(int) (Tracker, error) { return &vanishingTracker{}, nil }

func TestRunAndObserveVanishedMidRun(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, Grace: time.Second}, vanishingSampler{})

	obs, err := s.RunAndObserve(context.Background(), shell("sleep 30"), nil)
	require.NoError(t, err)
	assert.True(t, obs.Vanished)
	assert.Equal(t, []float64{10, 10}, obs.Samples)
	assert.InDelta(t, 10.0, obs.AvgCPU, 1e-9)
}

func TestRunAndObserveSurvivesOversizeLine(t *testing.T) {
	sampler := &scriptedSampler{}
	s := New(Options{Interval: time.Hour, Grace: time.Second, Sentinel: testSentinel}, sampler)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	script := fmt.Sprintf(`head -c 2000000 /dev/zero | tr '\0' a; echo; echo '%s'; sleep 30`, testSentinel)
	obs, err := s.RunAndObserve(ctx, shell(script), nil)
	require.NoError(t, err)
	assert.True(t, obs.Completed)
	assert.Less(t, obs.Duration, 10*time.Second)
}

func TestPumpTruncatesLongLines(t *testing.T) {
	p := &process{lines: make(chan string, 4), stop: make(chan struct{})}
	input := strings.Repeat("x", maxLineSize+4096) + "\nnext\n"
	p.pump(strings.NewReader(input))

	var got []string
	for line := range p.lines {
		got = append(got, line)
	}
	require.Len(t, got, 2)
	assert.Len(t, got[0], maxLineSize)
	assert.Equal(t, "next", got[1])
}

func TestRunAndObserveFailsOnBaselineError(t *testing.T) {
	sampler := &scriptedSampler{trackErr: errors.New("open /proc/1/stat: permission denied")}
	s := New(Options{Interval: 10 * time.Millisecond, Grace: time.Second, Sentinel: testSentinel}, sampler)

	obs, err := s.RunAndObserve(context.Background(), shell("sleep 2; echo '"+testSentinel+"'"), nil)
	require.Error(t, err)
	var se *SupervisionError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "permission denied")
	assert.False(t, obs.Vanished)
	assert.False(t, obs.Completed)
	assert.Less(t, obs.Duration, 2*time.Second, "client must be terminated")
}

type failingTracker struct{ n int }

func (f *failingTracker) Sample() (float64, error) {
	f.n++
	if f.n > 1 {
		return 0, errors.New("read cpu time of pid 1: permission denied")
	}
	return 3, nil
}

type failingSampler struct{}

func (failingSampler) Track(int) (Tracker, error) { return &failingTracker{}, nil }

func TestRunAndObserveFailsOnSampleError(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, Grace: time.Second}, failingSampler{})

	obs, err := s.RunAndObserve(context.Background(), shell("sleep 30"), nil)
	var se *SupervisionError
	require.True(t, errors.As(err, &se))
	assert.False(t, errors.Is(err, ErrProcessVanished))
	assert.False(t, obs.Vanished)
	assert.Equal(t, []float64{3}, obs.Samples)
}

func TestRunAndObserveCancel(t *testing.T) {
	sampler := &scriptedSampler{}
	s := New(Options{Interval: 10 * time.Millisecond, Grace: time.Second}, sampler)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.RunAndObserve(ctx, shell("sleep 30"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunAndObserveSpawnFailure(t *testing.T) {
	s := New(Options{}, &scriptedSampler{})

	_, err := s.RunAndObserve(context.Background(), Command{Path: "/nonexistent/client"}, nil)
	require.Error(t, err)
	var se *SupervisionError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "/nonexistent/client", se.Command)
}

func TestRunAndObserveAppliesDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644))
	s := New(Options{Interval: time.Hour, Sentinel: testSentinel}, &scriptedSampler{})

	cmd := shell(`[ -f marker ] && [ "$SHAPEBENCH_MARK" = ok ] && echo '` + testSentinel + `'`)
	cmd.Dir = dir
	cmd.Env = []string{"SHAPEBENCH_MARK=ok"}
	obs, err := s.RunAndObserve(context.Background(), cmd, nil)
	require.NoError(t, err)
	assert.True(t, obs.Completed)
}

func TestCommandString(t *testing.T) {
	c := Command{Path: "python3", Args: []string{"client.py", "--host", "10.0.0.2"}}
	assert.Equal(t, "python3 client.py --host 10.0.0.2", c.String())
}

func writeStat(t *testing.T, root string, pid, utime, stime int) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprint(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	fields := []string{"S", "1", fmt.Sprint(pid), fmt.Sprint(pid), "0", "-1", "4194304",
		"100", "0", "0", "0", fmt.Sprint(utime), fmt.Sprint(stime)}
	for len(fields) < 52 {
		fields = append(fields, "0")
	}
	line := fmt.Sprintf("%d (python3) %s\n", pid, strings.Join(fields, " "))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(line), 0o644))
}

func TestProcSamplerComputesPercent(t *testing.T) {
	root := t.TempDir()
	writeStat(t, root, 4242, 100, 50)

	sampler, err := NewProcSampler(root)
	require.NoError(t, err)
	clock := time.Unix(1700000000, 0)
	sampler.now = func() time.Time { return clock }

	tracker, err := sampler.Track(4242)
	require.NoError(t, err)

	// 1.5s of CPU over 3s of wall time
	writeStat(t, root, 4242, 250, 50)
	clock = clock.Add(3 * time.Second)
	cpu, err := tracker.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, cpu, 1e-6)

	// two busy cores
	writeStat(t, root, 4242, 450, 50)
	clock = clock.Add(time.Second)
	cpu, err = tracker.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 200.0, cpu, 1e-6)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "4242")))
	_, err = tracker.Sample()
	assert.ErrorIs(t, err, ErrProcessVanished)
}

func TestProcSamplerMissingProcess(t *testing.T) {
	sampler, err := NewProcSampler(t.TempDir())
	require.NoError(t, err)

	_, err = sampler.Track(999999)
	assert.ErrorIs(t, err, ErrProcessVanished)
}
