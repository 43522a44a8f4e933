package runner

import (
	"context"
	"strconv"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"shapebench/internal/logger"
	"shapebench/internal/shaping"
	"shapebench/internal/stats"
	"shapebench/internal/supervisor"
)

// Shaper installs an inbound limit. The returned Clearer must be non-nil
// whenever Apply returns, error or not.
type Shaper interface {
	Apply(ctx context.Context, rateMbit int, peer string) (Clearer, error)
}

type Clearer interface {
	Clear(ctx context.Context)
}

// Observer runs the client to completion.
type Observer interface {
	RunAndObserve(ctx context.Context, cmd supervisor.Command, onSample supervisor.SampleFunc) (supervisor.Observation, error)
}

// ControllerShaper adapts a shaping.Controller to Shaper.
type ControllerShaper struct {
	*shaping.Controller
}

func (s ControllerShaper) Apply(ctx context.Context, rateMbit int, peer string) (Clearer, error) {
	return s.Controller.Apply(ctx, rateMbit, peer)
}

type Runner struct {
	Cfg      Config
	shaper   Shaper
	observer Observer

	tmpl   *TemplateEngine
	output *template.Template
	extra  []*template.Template

	mu    sync.Mutex
	state State

	// Event Channel
	Updates EventChan
}

func NewRunner(cfg Config, shaper Shaper, observer Observer, updates EventChan) (*Runner, error) {
	if len(cfg.Client) == 0 {
		return nil, errors.New("client command is empty")
	}
	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(EventChan, 16)
	}

	r := &Runner{
		Cfg:      cfg,
		shaper:   shaper,
		observer: observer,
		tmpl:     NewTemplateEngine(),
		Updates:  updates,
	}

	var err error
	if r.output, err = r.tmpl.Parse("output", cfg.Output); err != nil {
		return nil, err
	}
	for i, arg := range cfg.ExtraArgs {
		t, err := r.tmpl.Parse("arg"+strconv.Itoa(i), arg)
		if err != nil {
			return nil, err
		}
		r.extra = append(r.extra, t)
	}
	return r, nil
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) emit(ev Event) {
	ev.Total = len(r.Cfg.Bandwidths)
	ev.State = r.State()
	// Non-blocking send
	select {
	case r.Updates <- ev:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// Run executes one trial per configured bandwidth, strictly in order. The
// shaping state of every trial is cleared before the next begins, and before
// Run returns on any path. On the first error Run stops and returns the
// records gathered so far along with the error.
func (r *Runner) Run(ctx context.Context) (res *RunResult, err error) {
	log := logger.Logger(ctx)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(err, "generate run id")
	}
	res = &RunResult{
		ID:        id.String(),
		StartedAt: time.Now(),
		Host:      r.Cfg.Host,
		Port:      r.Cfg.Port,
	}
	defer func() {
		res.FinishedAt = time.Now()
		r.setState(StateDone)
		r.emit(Event{Kind: RunFinished, Err: err})
	}()

	log.Info().Str("run", res.ID).Ints("bandwidths", r.Cfg.Bandwidths).Msg("starting run")

	for i, bw := range r.Cfg.Bandwidths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if i > 0 && r.Cfg.Settle > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(r.Cfg.Settle):
			}
		}

		rec, err := r.runTrial(ctx, res.ID, i, bw)
		if err != nil {
			return res, errors.Wrapf(err, "trial %d (%d Mbit/s)", i+1, bw)
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (r *Runner) runTrial(ctx context.Context, runID string, idx, bw int) (TrialRecord, error) {
	log := logger.Logger(ctx).With().Int("trial", idx+1).Int("bandwidth_mbit", bw).Logger()
	log.Info().Msgf("testing with inbound bandwidth limit: %d Mbit/s", bw)

	r.setState(StateApplying)
	r.emit(Event{Kind: TrialStarted, Trial: idx, Bandwidth: bw})

	limit, err := r.shaper.Apply(ctx, bw, r.Cfg.Host)
	defer func() {
		r.setState(StateClearing)
		if limit != nil {
			limit.Clear(ctx)
		}
	}()
	if err != nil {
		return TrialRecord{}, err
	}

	cmd, err := r.command(TemplateData{
		RunID:     runID,
		Trial:     idx + 1,
		Bandwidth: bw,
		Host:      r.Cfg.Host,
		Port:      r.Cfg.Port,
	})
	if err != nil {
		return TrialRecord{}, err
	}

	r.setState(StateRunning)
	r.emit(Event{Kind: TrialRunning, Trial: idx, Bandwidth: bw})
	started := time.Now()
	obs, err := r.observer.RunAndObserve(ctx, cmd, func(cpu float64) {
		r.emit(Event{Kind: TrialSample, Trial: idx, Bandwidth: bw, CPU: cpu})
	})
	if err != nil {
		return TrialRecord{}, err
	}

	sum := stats.Summarize(obs.Samples)
	rec := TrialRecord{
		Index:     idx,
		Bandwidth: bw,
		AvgCPU:    obs.AvgCPU,
		Duration:  obs.Duration,
		Samples:   len(obs.Samples),
		PeakCPU:   sum.Peak,
		P50CPU:    sum.P50,
		P90CPU:    sum.P90,
		P99CPU:    sum.P99,
		Completed: obs.Completed,
		ExitCode:  obs.ExitCode,
		StartedAt: started,
	}
	log.Info().Msgf("inbound bandwidth: %d Mbit/s | avg CPU: %.2f%% | duration: %.2fs",
		bw, rec.AvgCPU, rec.Duration.Seconds())

	snapshot := rec
	r.emit(Event{Kind: TrialFinished, Trial: idx, Bandwidth: bw, CPU: rec.AvgCPU, Record: &snapshot})
	return rec, nil
}

// command builds the client invocation:
// <client...> --host H --port P --output O [--cert C] [--key K] [--no-verify] [extra...]
func (r *Runner) command(data TemplateData) (supervisor.Command, error) {
	output, err := r.tmpl.Execute(r.output, data)
	if err != nil {
		return supervisor.Command{}, err
	}

	args := append([]string{}, r.Cfg.Client[1:]...)
	args = append(args,
		"--host", r.Cfg.Host,
		"--port", strconv.Itoa(r.Cfg.Port),
		"--output", output,
	)
	if r.Cfg.Cert != "" {
		args = append(args, "--cert", r.Cfg.Cert)
	}
	if r.Cfg.Key != "" {
		args = append(args, "--key", r.Cfg.Key)
	}
	if r.Cfg.NoVerify {
		args = append(args, "--no-verify")
	}
	for _, t := range r.extra {
		arg, err := r.tmpl.Execute(t, data)
		if err != nil {
			return supervisor.Command{}, err
		}
		args = append(args, arg)
	}
	return supervisor.Command{
		Path: r.Cfg.Client[0],
		Args: args,
		Dir:  r.Cfg.Dir,
		Env:  r.Cfg.Env,
	}, nil
}
