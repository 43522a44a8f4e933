package app

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"

	"shapebench/internal/config"
	"shapebench/internal/runner"
	"shapebench/internal/shaping"
	"shapebench/internal/storage"
)

// Harness is a started component graph.
type Harness struct {
	Controller *shaping.Controller
	Experiment *Experiment
	Store      *storage.Store

	app *fx.App
}

// Build wires and starts every component for cfg. cmd overrides the shaping
// commander and may be nil; updates may be nil.
func Build(ctx context.Context, cfg config.Config, cmd shaping.Commander, updates runner.EventChan) (*Harness, error) {
	h := &Harness{}
	fxApp := fx.New(
		HarnessModule(cfg, cmd, updates),
		fx.NopLogger,
		fx.Populate(&h.Controller, &h.Experiment, &h.Store),
	)
	if err := fxApp.Err(); err != nil {
		return nil, errors.Wrap(err, "wire harness")
	}
	if err := fxApp.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "start harness")
	}
	h.app = fxApp
	return h, nil
}

func (h *Harness) Close(ctx context.Context) error {
	if h.app == nil {
		return nil
	}
	return h.app.Stop(ctx)
}

// OpenStore builds only the history store, for commands that do not run
// trials.
func OpenStore(cfg config.Config) (*storage.Store, error) {
	if cfg.History.Disabled {
		return nil, errors.New("history is disabled")
	}
	return storage.NewStore(cfg.History.Path)
}
