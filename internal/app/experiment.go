// Package app wires the harness components together and drives one
// experiment: trials, then results, then history.
package app

import (
	"context"

	"github.com/pkg/errors"

	"shapebench/internal/logger"
	"shapebench/internal/results"
	"shapebench/internal/runner"
	"shapebench/internal/storage"
)

type TrialRunner interface {
	Run(ctx context.Context) (*runner.RunResult, error)
}

type Persister interface {
	Persist(ctx context.Context, res *runner.RunResult) (results.Artifacts, error)
}

type Recorder interface {
	Save(item storage.HistoryItem) error
}

// Outcome is what Execute produced. Result may hold partial records when
// Execute fails.
type Outcome struct {
	Result    *runner.RunResult
	Artifacts results.Artifacts
}

type Experiment struct {
	runner    TrialRunner
	persister Persister
	history   Recorder
}

// NewExperiment returns an Experiment; history may be nil.
func NewExperiment(r TrialRunner, p Persister, history Recorder) *Experiment {
	return &Experiment{runner: r, persister: p, history: history}
}

// Execute runs all trials and, only when every trial finished, persists the
// results and records the run in history. A failed history write is logged,
// not returned.
func (e *Experiment) Execute(ctx context.Context) (Outcome, error) {
	log := logger.Logger(ctx)

	res, err := e.runner.Run(ctx)
	out := Outcome{Result: res}
	if err != nil {
		return out, err
	}

	out.Artifacts, err = e.persister.Persist(ctx, res)
	if err != nil {
		return out, errors.Wrap(err, "persist results")
	}

	if e.history != nil {
		if err := e.history.Save(storage.NewHistoryItem(res, out.Artifacts.Paths())); err != nil {
			log.Warn().Err(err).Str("run", res.ID).Msg("failed to record run history")
		}
	}
	return out, nil
}
