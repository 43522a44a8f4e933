package supervisor

import "fmt"

// SupervisionError means the client could not be started or its CPU usage
// could not be read.
type SupervisionError struct {
	Command string
	Err     error
}

func (e *SupervisionError) Error() string {
	return fmt.Sprintf("supervise %s: %v", e.Command, e.Err)
}

func (e *SupervisionError) Unwrap() error {
	return e.Err
}
