package app

import (
	"context"

	"go.uber.org/fx"

	"shapebench/internal/config"
	"shapebench/internal/metrics"
	"shapebench/internal/results"
	"shapebench/internal/runner"
	"shapebench/internal/shaping"
	"shapebench/internal/storage"
	"shapebench/internal/supervisor"
)

// ConfigModule provides the validated configuration and its sections.
func ConfigModule(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Provide(func() config.Config {
			return cfg
		}),
		fx.Provide(func(c config.Config) config.ShapingConfig {
			return c.Shaping
		}),
		fx.Provide(func(c config.Config) config.SupervisorConfig {
			return c.Supervisor
		}),
		fx.Provide(func(c config.Config) config.ResultsConfig {
			return c.Results
		}),
		fx.Provide(func(c config.Config) config.HistoryConfig {
			return c.History
		}),
	)
}

// ShapingModule provides the shaping controller, return *shaping.Controller
func ShapingModule(cmd shaping.Commander) fx.Option {
	return fx.Options(
		fx.Provide(func(c config.ShapingConfig) shaping.Commander {
			if cmd != nil {
				return cmd
			}
			return shaping.ExecCommander{Sudo: c.Sudo}
		}),
		fx.Provide(func(c config.ShapingConfig, cmd shaping.Commander) *shaping.Controller {
			return shaping.NewController(shaping.Options{
				Iface:   c.Iface,
				IFB:     c.IFB,
				Burst:   c.Burst,
				Latency: c.Latency,
			}, cmd)
		}),
	)
}

// SupervisorModule provides the procfs-backed supervisor, return *supervisor.Supervisor
func SupervisorModule() fx.Option {
	return fx.Options(
		fx.Provide(func(c config.SupervisorConfig) (supervisor.Sampler, error) {
			return supervisor.NewProcSampler(c.ProcPath)
		}),
		fx.Provide(func(c config.Config, s supervisor.Sampler) *supervisor.Supervisor {
			return supervisor.New(supervisor.Options{
				Interval:    c.Supervisor.Interval,
				Grace:       c.Supervisor.Grace,
				Sentinel:    c.Client.Sentinel,
				WatchStderr: c.Supervisor.WatchStderr,
			}, s)
		}),
	)
}

// ResultsModule provides the aggregator and its metrics collector.
func ResultsModule() fx.Option {
	return fx.Options(
		fx.Provide(metrics.NewMetricCollector),
		fx.Provide(func(c config.ResultsConfig, mc *metrics.MetricCollector) *results.Aggregator {
			return results.New(results.Options{
				Dir:          c.Dir,
				Prefix:       c.Prefix,
				CPUFile:      c.CPUFile,
				DurationFile: c.DurationFile,
				ChartFile:    c.ChartFile,
			}, mc)
		}),
	)
}

// StorageModule provides the history store; nil when history is disabled.
func StorageModule() fx.Option {
	return fx.Provide(func(lc fx.Lifecycle, c config.HistoryConfig) (*storage.Store, error) {
		if c.Disabled {
			return nil, nil
		}
		store, err := storage.NewStore(c.Path)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return store.Close()
			},
		})
		return store, nil
	})
}

// HarnessModule wires every component of a run, return *Experiment
func HarnessModule(cfg config.Config, cmd shaping.Commander, updates runner.EventChan) fx.Option {
	return fx.Options(
		ConfigModule(cfg),
		ShapingModule(cmd),
		SupervisorModule(),
		ResultsModule(),
		StorageModule(),
		fx.Provide(func() runner.EventChan {
			return updates
		}),
		fx.Provide(newRunner),
		fx.Provide(newExperiment),
	)
}

func newRunner(c config.Config, ctrl *shaping.Controller, sup *supervisor.Supervisor, updates runner.EventChan) (*runner.Runner, error) {
	return runner.NewRunner(RunnerConfig(c), runner.ControllerShaper{Controller: ctrl}, sup, updates)
}

func newExperiment(r *runner.Runner, agg *results.Aggregator, store *storage.Store) *Experiment {
	var rec Recorder
	if store != nil {
		rec = store
	}
	return NewExperiment(r, agg, rec)
}

// RunnerConfig maps the harness configuration onto one run.
func RunnerConfig(c config.Config) runner.Config {
	return runner.Config{
		Host:       c.Host,
		Port:       c.Port,
		Cert:       c.Cert,
		Key:        c.Key,
		Output:     c.Output,
		Bandwidths: c.Bandwidths,
		Client:     c.Client.Argv(),
		ExtraArgs:  c.Client.ExtraArgs,
		NoVerify:   c.Client.NoVerify,
		Dir:        c.Client.Dir,
		Env:        c.Client.Env,
		Settle:     c.Settle,
	}
}
