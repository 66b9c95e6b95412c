package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// Invocation is one runtime CLI call with its streams.
type Invocation struct {
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner executes runtime CLI commands.
// Run returns the exit code of the command. The error is non-nil only when
// the command could not be started, was killed by a signal, or its wait was
// interrupted by ctx.
type Runner interface {
	Run(ctx context.Context, bin string, inv Invocation) (int, error)
}

// osRunner executes real commands via exec.CommandContext.
type osRunner struct{}

// waitDelay bounds how long Wait blocks on output copying after the
// process was killed because ctx ended.
const waitDelay = 5 * time.Second

func (osRunner) Run(ctx context.Context, bin string, inv Invocation) (int, error) {
	cmd := exec.CommandContext(ctx, bin, inv.Args...)
	cmd.Stdin = inv.Stdin
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A client killed by a signal has no exit status of its own
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		return -1, fmt.Errorf("%s terminated: %w", bin, err)
	}
	return -1, err
}

// OSRunner returns the Runner that executes real processes.
func OSRunner() Runner {
	return osRunner{}
}
