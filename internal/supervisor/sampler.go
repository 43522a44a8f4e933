package supervisor

import (
	"io/fs"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// ErrProcessVanished means the observed process disappeared between checks.
// The supervisor treats it as a normal end of observation.
var ErrProcessVanished = errors.New("process vanished")

// Sampler starts CPU tracking for a process.
type Sampler interface {
	// Track takes the warm-up reading for pid and returns a tracker whose
	// Sample calls each cover the interval since the previous reading.
	Track(pid int) (Tracker, error)
}

type Tracker interface {
	// Sample returns CPU utilisation in percent of one core since the
	// previous reading.
	Sample() (float64, error)
}

// ProcSampler reads per-process CPU time from a procfs mount.
type ProcSampler struct {
	fs  procfs.FS
	now func() time.Time
}

func NewProcSampler(mountPoint string) (*ProcSampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	pfs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, errors.Wrapf(err, "open procfs at %s", mountPoint)
	}
	return &ProcSampler{fs: pfs, now: time.Now}, nil
}

func (s *ProcSampler) Track(pid int) (Tracker, error) {
	t := &procTracker{sampler: s, pid: pid}
	cpu, err := t.cpuTime()
	if err != nil {
		return nil, err
	}
	t.lastCPU = cpu
	t.lastWall = s.now()
	return t, nil
}

type procTracker struct {
	sampler  *ProcSampler
	pid      int
	lastCPU  float64
	lastWall time.Time
}

func (t *procTracker) Sample() (float64, error) {
	cpu, err := t.cpuTime()
	if err != nil {
		return 0, err
	}
	now := t.sampler.now()
	wall := now.Sub(t.lastWall).Seconds()
	delta := cpu - t.lastCPU
	t.lastCPU, t.lastWall = cpu, now

	if wall <= 0 || delta < 0 {
		return 0, nil
	}
	return 100 * delta / wall, nil
}

func (t *procTracker) cpuTime() (float64, error) {
	proc, err := t.sampler.fs.Proc(t.pid)
	if err != nil {
		return 0, classify(err, t.pid)
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, classify(err, t.pid)
	}
	return stat.CPUTime(), nil
}

func classify(err error, pid int) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
		return errors.Wrapf(ErrProcessVanished, "pid %d", pid)
	}
	return errors.Wrapf(err, "read cpu time of pid %d", pid)
}
