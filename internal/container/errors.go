package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotLive is returned when a process is requested in a container that
// is stopped or no longer running.
var ErrNotLive = errors.New("container is not live")

// ExecError reports that a process could not be invoked or waited for
// inside a container. A process that ran and exited non-zero is not an
// ExecError.
type ExecError struct {
	// Container is the container name (or ID when the name is unknown)
	Container string

	// Command is the command vector that was requested
	Command []string

	// Err is the underlying cause
	Err error
}

func (e *ExecError) Error() string {
	target := e.Container
	if target == "" {
		target = "<none>"
	}
	return fmt.Sprintf("exec %q in container %s: %v", strings.Join(e.Command, " "), target, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Interrupted reports whether the wait was cut short by cancellation.
// Interrupted processes are terminal and never retried.
func (e *ExecError) Interrupted() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}
