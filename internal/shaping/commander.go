package shaping

import (
	"context"
	"os/exec"
	"strings"
)

// Commander runs one kernel configuration command and returns its combined
// output.
type Commander interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecCommander shells out to the host's ip/tc/modprobe binaries, optionally
// through sudo.
type ExecCommander struct {
	Sudo bool
}

func (c ExecCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	if c.Sudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
