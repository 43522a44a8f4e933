package runner

import (
	"time"
)

// Config describes one run: the peer, the client invocation and the ordered
// bandwidth limits to test.
type Config struct {
	Host   string
	Port   int
	Cert   string
	Key    string
	Output string // may contain {{bandwidth}} and friends

	Bandwidths []int // Mbit/s, in trial order

	Client    []string // argv prefix, e.g. ["python3", "new_opt_client.py"]
	ExtraArgs []string // templated, appended after the fixed flags
	NoVerify  bool
	Dir       string   // client working directory
	Env       []string // extra KEY=VALUE entries for the client

	Settle time.Duration // pause between trials
}

// TrialRecord is the outcome of one trial. Records are appended in trial
// order and never modified afterwards.
type TrialRecord struct {
	Index     int           `json:"index"`
	Bandwidth int           `json:"bandwidth_mbit"`
	AvgCPU    float64       `json:"avg_cpu"`
	Duration  time.Duration `json:"duration"`
	Samples   int           `json:"samples"`
	PeakCPU   float64       `json:"peak_cpu"`
	P50CPU    float64       `json:"p50_cpu"`
	P90CPU    float64       `json:"p90_cpu"`
	P99CPU    float64       `json:"p99_cpu"`
	Completed bool          `json:"completed"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
}

// RunResult is a finished (or interrupted) run.
type RunResult struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	Records    []TrialRecord `json:"records"`
}

// Bandwidths returns the tested limits as float64, in trial order.
func (r *RunResult) Bandwidths() []float64 {
	out := make([]float64, len(r.Records))
	for i, rec := range r.Records {
		out[i] = float64(rec.Bandwidth)
	}
	return out
}

func (r *RunResult) CPUSeries() []float64 {
	out := make([]float64, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.AvgCPU
	}
	return out
}

// DurationSeries returns trial durations in seconds.
func (r *RunResult) DurationSeries() []float64 {
	out := make([]float64, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec.Duration.Seconds()
	}
	return out
}

type State int

const (
	StateIdle State = iota
	StateApplying
	StateRunning
	StateClearing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApplying:
		return "applying"
	case StateRunning:
		return "running"
	case StateClearing:
		return "clearing"
	case StateDone:
		return "done"
	}
	return "unknown"
}

type EventKind int

const (
	TrialStarted EventKind = iota
	TrialRunning // limit installed, client spawning
	TrialSample
	TrialFinished
	RunFinished
)

// Event is pushed to the UI while a run progresses.
type Event struct {
	Kind      EventKind
	State     State
	Trial     int // zero based
	Total     int
	Bandwidth int
	CPU       float64
	Record    *TrialRecord
	Err       error
}

// EventChan is the channel type
type EventChan chan Event
