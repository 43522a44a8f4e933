package shaping

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrBusy is returned by Apply while another Limit is still installed.
var ErrBusy = errors.New("shaping state already owned by a live limit")

// ShapingError reports a failed non-idempotent setup step.
type ShapingError struct {
	Step   string
	Cmd    string
	Output string
	Err    error
}

func (e *ShapingError) Error() string {
	msg := fmt.Sprintf("shaping %s failed: %s: %v", e.Step, e.Cmd, e.Err)
	if e.Output != "" {
		msg += " (" + e.Output + ")"
	}
	return msg
}

func (e *ShapingError) Unwrap() error {
	return e.Err
}

// IsShapingError reports whether err carries a *ShapingError anywhere in its chain.
func IsShapingError(err error) (*ShapingError, bool) {
	var se *ShapingError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

var notFoundMarkers = []string{
	"cannot find device",
	"no such file or directory",
	"no such device",
	"cannot delete qdisc with handle of zero",
	"does not exist",
	"invalid handle",
	"not found",
}

// isNotFound reports whether a teardown command failed only because the
// object it targets is already absent.
func isNotFound(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range notFoundMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
