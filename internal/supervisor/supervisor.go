// Package supervisor runs the transfer client and observes it: output lines
// are scanned for the completion sentinel while CPU usage is sampled on a
// fixed cadence.
package supervisor

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"shapebench/internal/logger"
)

const (
	lineBuffer   = 64
	maxLineSize  = 1 << 20
	drainTimeout = 200 * time.Millisecond
)

// Command is one client invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

type Options struct {
	Interval    time.Duration
	Grace       time.Duration
	Sentinel    string
	WatchStderr bool
}

// Observation is what one supervised run yields.
type Observation struct {
	AvgCPU    float64
	Duration  time.Duration
	Samples   []float64
	Completed bool
	Vanished  bool
	ExitCode  int
}

// SampleFunc receives every CPU sample as it is taken.
type SampleFunc func(cpu float64)

type Supervisor struct {
	opts      Options
	sampler   Sampler
	newTicker func(time.Duration) (<-chan time.Time, func())
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func New(opts Options, sampler Sampler) *Supervisor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Grace <= 0 {
		opts.Grace = 5 * time.Second
	}
	return &Supervisor{opts: opts, sampler: sampler, newTicker: realTicker}
}

type phase int

const (
	phaseWarmup phase = iota
	phaseSampling
	phaseCompleted
	phaseExited
	phaseVanished
	phaseFailed
	phaseCancelled
)

func (p phase) String() string {
	switch p {
	case phaseWarmup:
		return "warmup"
	case phaseSampling:
		return "sampling"
	case phaseCompleted:
		return "completed"
	case phaseExited:
		return "exited"
	case phaseVanished:
		return "vanished"
	case phaseFailed:
		return "failed"
	case phaseCancelled:
		return "cancelled"
	}
	return "unknown"
}

// process is the live child plus the plumbing around it.
type process struct {
	cmd    *exec.Cmd
	exited chan struct{}
	lines  chan string
	stop   chan struct{}
}

func (p *process) wait() {
	_ = p.cmd.Wait()
	close(p.exited)
}

// pump forwards r line by line until EOF. Lines longer than maxLineSize are
// truncated and the rest of them discarded, so the pipe never stops draining.
func (p *process) pump(r io.Reader) {
	defer close(p.lines)
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		chunk, more, err := br.ReadLine()
		if room := maxLineSize - len(line); room > 0 {
			line = append(line, chunk[:min(len(chunk), room)]...)
		}
		if err == nil && more {
			continue
		}
		if err != nil && len(line) == 0 {
			return
		}
		select {
		case p.lines <- string(line):
		case <-p.stop:
			return
		}
		if err != nil {
			return
		}
		line = line[:0]
	}
}

func (p *process) done() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// RunAndObserve starts command and observes it until it exits, prints the
// sentinel (it is then terminated) or disappears from procfs. It returns the
// mean of the CPU samples (0 when none were taken) and the wall-clock time
// from spawn to the end of observation. Cancelling ctx terminates the child
// and returns ctx.Err() alongside the partial observation.
func (s *Supervisor) RunAndObserve(ctx context.Context, command Command, onSample SampleFunc) (Observation, error) {
	log := logger.Logger(ctx)

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	setProcessGroup(cmd)

	// A plain pipe rather than StdoutPipe: Wait must not block on readers, and
	// closing the read end is what stops the pump.
	pr, pw, err := os.Pipe()
	if err != nil {
		return Observation{}, &SupervisionError{Command: command.String(), Err: err}
	}
	cmd.Stdout = pw
	if s.opts.WatchStderr {
		cmd.Stderr = pw
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return Observation{}, &SupervisionError{Command: command.String(), Err: err}
	}
	pw.Close()
	log.Info().Int("pid", cmd.Process.Pid).Str("cmd", command.String()).Msg("client started")

	p := &process{
		cmd:    cmd,
		exited: make(chan struct{}),
		lines:  make(chan string, lineBuffer),
		stop:   make(chan struct{}),
	}
	go p.wait()
	go p.pump(pr)
	defer func() {
		close(p.stop)
		pr.Close()
	}()

	obs, state, sampleErr := s.observe(ctx, p, onSample)
	obs.Duration = time.Since(start)

	switch state {
	case phaseExited, phaseVanished:
		if s.drain(ctx, p.lines) {
			obs.Completed = true
		}
	case phaseCompleted:
		obs.Completed = true
	}
	s.terminate(ctx, p)
	if ps := cmd.ProcessState; ps != nil {
		obs.ExitCode = ps.ExitCode()
	}
	obs.AvgCPU = mean(obs.Samples)

	log.Info().
		Str("phase", state.String()).
		Int("samples", len(obs.Samples)).
		Float64("avg_cpu", obs.AvgCPU).
		Dur("duration", obs.Duration).
		Msg("client observation ended")

	switch state {
	case phaseCancelled:
		return obs, ctx.Err()
	case phaseFailed:
		return obs, &SupervisionError{Command: command.String(), Err: errors.Wrap(sampleErr, "sample cpu")}
	}
	return obs, nil
}

// observe runs the sampling loop. Only ErrProcessVanished ends it as a normal
// vanish; any other sampler error is returned with phaseFailed.
func (s *Supervisor) observe(ctx context.Context, p *process, onSample SampleFunc) (Observation, phase, error) {
	log := logger.Logger(ctx)
	var obs Observation

	state := phaseWarmup
	// The warm-up reading only establishes the baseline and is discarded.
	tracker, err := s.sampler.Track(p.cmd.Process.Pid)
	if err != nil {
		if !errors.Is(err, ErrProcessVanished) {
			log.Error().Err(err).Msg("cpu baseline lookup failed")
			return obs, phaseFailed, err
		}
		log.Debug().Msg("process ended before monitoring started")
		obs.Vanished = true
		return obs, phaseVanished, nil
	}
	state = phaseSampling

	ticks, stop := s.newTicker(s.opts.Interval)
	defer stop()

	lines := p.lines
	for state == phaseSampling {
		select {
		case <-ctx.Done():
			state = phaseCancelled

		case <-p.exited:
			state = phaseExited

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			log.Debug().Str("line", line).Msg("client output")
			if s.isSentinel(line) {
				log.Info().Msg("detected completion message, terminating client")
				state = phaseCompleted
			}

		case <-ticks:
			cpu, err := tracker.Sample()
			if err != nil {
				if !errors.Is(err, ErrProcessVanished) {
					log.Error().Err(err).Msg("cpu sample failed")
					return obs, phaseFailed, err
				}
				obs.Vanished = true
				state = phaseVanished
				continue
			}
			obs.Samples = append(obs.Samples, cpu)
			log.Debug().Float64("cpu", cpu).Msg("cpu usage")
			if onSample != nil {
				onSample(cpu)
			}
		}
	}
	return obs, state, nil
}

// drain reads what the client wrote right before exiting and reports whether
// the sentinel was among it.
func (s *Supervisor) drain(ctx context.Context, lines <-chan string) bool {
	timeout := time.NewTimer(drainTimeout)
	defer timeout.Stop()
	found := false
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return found
			}
			logger.Logger(ctx).Debug().Str("line", line).Msg("client output")
			if s.isSentinel(line) {
				found = true
			}
		case <-timeout.C:
			return found
		}
	}
}

func (s *Supervisor) isSentinel(line string) bool {
	return s.opts.Sentinel != "" && strings.Contains(line, s.opts.Sentinel)
}

// terminate asks the client's process group to stop, escalating to SIGKILL
// after the grace period, and returns once the client is reaped.
func (s *Supervisor) terminate(ctx context.Context, p *process) {
	if p.done() {
		return
	}
	log := logger.Logger(ctx)
	if err := signalGroup(p.cmd, unix.SIGTERM); err != nil {
		log.Debug().Err(err).Msg("SIGTERM failed")
	}
	grace := time.NewTimer(s.opts.Grace)
	defer grace.Stop()
	select {
	case <-p.exited:
		return
	case <-grace.C:
	}
	log.Warn().Dur("grace", s.opts.Grace).Msg("client ignored SIGTERM, killing")
	if err := signalGroup(p.cmd, unix.SIGKILL); err != nil {
		log.Debug().Err(err).Msg("SIGKILL failed")
	}
	<-p.exited
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
