package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CLIManager implements Manager using docker/podman CLI.
type CLIManager struct {
	runtime string // "docker" or "podman"
	runner  Runner
}

// NewCLIManager creates a Manager using the specified runtime binary.
// Use DetectRuntime() to find an available runtime first.
func NewCLIManager(runtime string) *CLIManager {
	return NewCLIManagerWithRunner(runtime, OSRunner())
}

// NewCLIManagerWithRunner creates a Manager that sends every invocation
// through runner. Tests use it to stub the runtime binary.
func NewCLIManagerWithRunner(runtime string, runner Runner) *CLIManager {
	return &CLIManager{runtime: runtime, runner: runner}
}

// Runtime returns the runtime binary name.
func (m *CLIManager) Runtime() string {
	return m.runtime
}

// output runs a command and returns its trimmed stdout.
// A non-zero exit status is turned into an error carrying stderr.
func (m *CLIManager) output(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	code, err := m.runner.Run(ctx, m.runtime, Invocation{Args: args, Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", m.runtime, args[0], err)
	}
	if code != 0 {
		return "", fmt.Errorf("%s %s exited with status %d: %s",
			m.runtime, args[0], code, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// InspectImage returns the local image ID for ref.
func (m *CLIManager) InspectImage(ctx context.Context, ref string) (string, error) {
	id, err := m.output(ctx, "image", "inspect", "-f", "{{.Id}}", ref)
	if err != nil {
		return "", fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	return id, nil
}

// PullImage pulls ref, streaming the runtime's progress output to w.
func (m *CLIManager) PullImage(ctx context.Context, ref string, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}
	var stderr bytes.Buffer
	code, err := m.runner.Run(ctx, m.runtime, Invocation{
		Args:   []string{"pull", ref},
		Stdout: w,
		Stderr: io.MultiWriter(w, &stderr),
	})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	if code != 0 {
		return fmt.Errorf("failed to pull image %s: exit status %d: %s",
			ref, code, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// BuildImage builds cfg.Tag from a Dockerfile, streaming output to w.
func (m *CLIManager) BuildImage(ctx context.Context, cfg BuildConfig, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}
	args := []string{"build", "-t", cfg.Tag}
	if cfg.Dockerfile != "" {
		// The CLI resolves -f against its working directory, not the context
		dockerfile := cfg.Dockerfile
		if !filepath.IsAbs(dockerfile) {
			dockerfile = filepath.Join(cfg.ContextDir, dockerfile)
		}
		args = append(args, "-f", dockerfile)
	}
	args = append(args, cfg.ContextDir)

	var stderr bytes.Buffer
	code, err := m.runner.Run(ctx, m.runtime, Invocation{
		Args:   args,
		Stdout: w,
		Stderr: io.MultiWriter(w, &stderr),
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", cfg.Tag, err)
	}
	if code != 0 {
		return fmt.Errorf("failed to build image %s: exit status %d: %s",
			cfg.Tag, code, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// createArgs builds the argument vector for `create`.
func createArgs(cfg ContainerConfig) []string {
	args := []string{"create", "--name", cfg.Name}

	if cfg.Interactive {
		args = append(args, "-i")
	}
	if len(cfg.Entrypoint) > 0 {
		// The CLI only accepts the executable here; remaining words move to Cmd
		args = append(args, "--entrypoint", cfg.Entrypoint[0])
	}
	if cfg.WorkDir != "" {
		args = append(args, "-w", cfg.WorkDir)
	}
	for _, kv := range sortedEnv(cfg.Env) {
		args = append(args, "-e", kv)
	}
	for _, kv := range sortedEnv(cfg.Labels) {
		args = append(args, "-l", kv)
	}
	for _, v := range cfg.Volumes {
		args = append(args, "-v", v)
	}
	for _, from := range cfg.VolumesFrom {
		args = append(args, "--volumes-from", string(from))
	}
	if cfg.Network != "" {
		args = append(args, "--network", cfg.Network)
	}

	// Image and command come last
	args = append(args, cfg.Image)
	if len(cfg.Entrypoint) > 1 {
		args = append(args, cfg.Entrypoint[1:]...)
	}
	args = append(args, cfg.Cmd...)
	return args
}

// Create creates a new container but does not start it.
func (m *CLIManager) Create(ctx context.Context, cfg ContainerConfig) (ContainerID, error) {
	id, err := m.output(ctx, createArgs(cfg)...)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return ContainerID(id), nil
}

// Start starts a previously created container.
func (m *CLIManager) Start(ctx context.Context, id ContainerID) error {
	if _, err := m.output(ctx, "start", string(id)); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Attach runs `attach` in the background and exposes its stdin/stdout.
func (m *CLIManager) Attach(ctx context.Context, id ContainerID) (io.ReadWriteCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	s := &attachedStream{
		r:      stdoutR,
		w:      stdinW,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		var stderr bytes.Buffer
		code, err := m.runner.Run(ctx, m.runtime, Invocation{
			Args:   []string{"attach", string(id)},
			Stdin:  stdinR,
			Stdout: stdoutW,
			Stderr: &stderr,
		})
		if err == nil && code != 0 {
			err = fmt.Errorf("attach exited with status %d: %s", code, strings.TrimSpace(stderr.String()))
		}
		_ = stdinR.Close()
		stdoutW.CloseWithError(err)
	}()

	return s, nil
}

// IsRunning reports whether the container is running.
func (m *CLIManager) IsRunning(ctx context.Context, id ContainerID) (bool, error) {
	out, err := m.output(ctx, "inspect", "-f", "{{.State.Running}}", string(id))
	if err != nil {
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}
	return out == "true", nil
}

// execArgs builds the argument vector for `exec`.
func execArgs(id ContainerID, cfg ExecConfig) []string {
	args := []string{"exec"}
	if cfg.Stdin != nil {
		args = append(args, "-i")
	}
	if cfg.WorkDir != "" {
		args = append(args, "-w", cfg.WorkDir)
	}
	for _, kv := range sortedEnv(cfg.Env) {
		args = append(args, "-e", kv)
	}
	args = append(args, string(id))
	return append(args, cfg.Cmd...)
}

// Exec runs a process in the container and returns its exit code.
// Output is forwarded unbuffered to cfg.Stdout and cfg.Stderr.
func (m *CLIManager) Exec(ctx context.Context, id ContainerID, cfg ExecConfig) (int, error) {
	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = stdout
	}

	code, err := m.runner.Run(ctx, m.runtime, Invocation{
		Args:   execArgs(id, cfg),
		Stdin:  cfg.Stdin,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to exec in container: %w", err)
	}
	return code, nil
}

// Logs returns the container output so far (stdout and stderr combined).
func (m *CLIManager) Logs(ctx context.Context, id ContainerID) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	r, w := io.Pipe()

	go func() {
		code, err := m.runner.Run(ctx, m.runtime, Invocation{
			Args:   []string{"logs", string(id)},
			Stdout: w,
			Stderr: w,
		})
		if err == nil && code != 0 {
			err = fmt.Errorf("logs exited with status %d", code)
		}
		w.CloseWithError(err)
	}()

	// When the caller closes the stream, the command is killed
	return &cancelReadCloser{ReadCloser: r, cancel: cancel}, nil
}

// Stop stops a running container with the specified timeout.
func (m *CLIManager) Stop(ctx context.Context, id ContainerID, timeout time.Duration) error {
	timeoutSecs := int(timeout.Seconds())
	_, err := m.output(ctx, "stop", "-t", strconv.Itoa(timeoutSecs), string(id))
	if err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove force-removes a container together with its anonymous volumes.
func (m *CLIManager) Remove(ctx context.Context, id ContainerID) error {
	_, err := m.output(ctx, "rm", "-f", "-v", string(id))
	if err != nil && !isNoSuchContainer(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// ListByLabel returns the full IDs of all containers carrying label.
func (m *CLIManager) ListByLabel(ctx context.Context, label string) ([]ContainerID, error) {
	out, err := m.output(ctx, "ps", "-a", "-q", "--no-trunc", "--filter", "label="+label)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	var ids []ContainerID
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, ContainerID(line))
		}
	}
	return ids, nil
}

// isNoSuchContainer matches the docker and podman messages for absent containers.
func isNoSuchContainer(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such container")
}

// attachedStream joins the stdout pipe and stdin pipe of an attach process.
type attachedStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *attachedStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *attachedStream) Write(p []byte) (int, error) { return s.w.Write(p) }

// Close detaches: stdin is closed, pending output is dropped and the
// attach process is killed.
func (s *attachedStream) Close() error {
	_ = s.w.Close()
	_ = s.r.Close()
	s.cancel()
	<-s.done
	return nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

// Verify CLIManager implements Manager interface
var _ Manager = (*CLIManager)(nil)
