package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// ErrNoRuntime is returned when no container runtime is found.
var ErrNoRuntime = errors.New("no container runtime found (need docker or podman)")

// candidateRuntimes lists the binaries probed by DetectRuntime, in order.
var candidateRuntimes = []string{"docker", "podman"}

// DetectRuntime finds an available container runtime.
// With preferred set to "docker" or "podman" only that binary is probed;
// "" or "auto" checks docker first, then podman. Verifies the binary actually
// works by running `<runtime> version`.
func DetectRuntime(preferred string) (string, error) {
	return detectRuntime(context.Background(), preferred, exec.LookPath, OSRunner())
}

func detectRuntime(ctx context.Context, preferred string, lookPath func(string) (string, error), runner Runner) (string, error) {
	candidates := candidateRuntimes
	switch preferred {
	case "", "auto":
	case "docker", "podman":
		candidates = []string{preferred}
	default:
		return "", fmt.Errorf("unsupported container runtime %q", preferred)
	}

	for _, bin := range candidates {
		if _, err := lookPath(bin); err != nil {
			continue
		}
		code, err := runner.Run(ctx, bin, Invocation{
			Args:   []string{"version"},
			Stdout: io.Discard,
			Stderr: io.Discard,
		})
		if err != nil || code != 0 {
			continue
		}
		return bin, nil
	}
	return "", ErrNoRuntime
}
