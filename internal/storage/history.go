package storage

import (
	"time"

	"shapebench/internal/runner"
)

// MaxItems is how many runs the history keeps; older runs are pruned on Save.
const MaxItems = 100

type HistoryItem struct {
	ID         string               `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	FinishedAt time.Time            `json:"finished_at"`
	Host       string               `json:"host"`
	Port       int                  `json:"port"`
	Records    []runner.TrialRecord `json:"records"`
	Summary    RunSummary           `json:"summary"`
	Artifacts  []string             `json:"artifacts,omitempty"`
}

type RunSummary struct {
	Trials        int           `json:"trials"`
	MeanCPU       float64       `json:"mean_cpu"`
	PeakCPU       float64       `json:"peak_cpu"`
	TotalDuration time.Duration `json:"total_duration"`
	Incomplete    int           `json:"incomplete"`
}

// NewHistoryItem summarises a finished run for storage.
func NewHistoryItem(res *runner.RunResult, artifacts []string) HistoryItem {
	item := HistoryItem{
		ID:         res.ID,
		Timestamp:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Host:       res.Host,
		Port:       res.Port,
		Records:    res.Records,
		Artifacts:  artifacts,
	}

	s := &item.Summary
	s.Trials = len(res.Records)
	for _, rec := range res.Records {
		s.MeanCPU += rec.AvgCPU
		s.TotalDuration += rec.Duration
		if rec.PeakCPU > s.PeakCPU {
			s.PeakCPU = rec.PeakCPU
		}
		if !rec.Completed {
			s.Incomplete++
		}
	}
	if s.Trials > 0 {
		s.MeanCPU /= float64(s.Trials)
	}
	return item
}
