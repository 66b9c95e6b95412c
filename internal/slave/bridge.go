package slave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/RevCBH/dockerslaves/internal/container"
)

// ProcStarter describes a process to launch inside the build environment.
// The target container is chosen by the provisioner from its phase.
type ProcStarter struct {
	Cmd     []string
	Env     map[string]string
	WorkDir string
	Stdin   io.Reader

	// Stdout and Stderr default to the build log
	Stdout io.Writer
	Stderr io.Writer
}

// Bridge runs a process inside a container with a single runtime exec.
type Bridge struct {
	logger *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{logger: logger}
}

// Run executes proc in c and returns its exit code. A non-zero exit code is
// a result, not an error. Failed or interrupted invocations are returned as
// *container.ExecError and are never retried.
func (b *Bridge) Run(ctx context.Context, c *container.Container, proc ProcStarter, log io.Writer) (int, error) {
	if log == nil {
		log = io.Discard
	}
	if c == nil {
		return -1, &container.ExecError{Command: proc.Cmd, Err: container.ErrNotLive}
	}
	if len(proc.Cmd) == 0 {
		return -1, &container.ExecError{Container: c.Name, Err: errors.New("empty command")}
	}

	stdout := proc.Stdout
	if stdout == nil {
		stdout = log
	}
	stderr := proc.Stderr
	if stderr == nil {
		stderr = stdout
	}

	fmt.Fprintf(log, "$ %s\n", CommandLine(proc.Cmd))
	code, err := c.Exec(ctx, container.ExecConfig{
		Cmd:     proc.Cmd,
		Env:     proc.Env,
		WorkDir: proc.WorkDir,
		Stdin:   proc.Stdin,
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err != nil {
		var execErr *container.ExecError
		if errors.As(err, &execErr) && execErr.Interrupted() {
			fmt.Fprintf(log, "Process interrupted in %s\n", c.Name)
		} else {
			fmt.Fprintf(log, "ERROR: %v\n", err)
		}
		return -1, err
	}

	b.logger.Debug("process exited", "container", c.Name, "cmd", proc.Cmd, "code", code)
	return code, nil
}

// CommandLine renders a command vector for display, quoting arguments that
// contain whitespace or quotes.
func CommandLine(cmd []string) string {
	parts := make([]string, len(cmd))
	for i, arg := range cmd {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'") {
			parts[i] = strconv.Quote(arg)
			continue
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}
