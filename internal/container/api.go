package container

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// APIManager implements Manager using the Docker Engine API
type APIManager struct {
	cli *client.Client
}

// NewAPIManager creates a Manager talking to the daemon configured by the
// DOCKER_HOST/DOCKER_* environment. opts are applied after the environment.
func NewAPIManager(opts ...client.Opt) (*APIManager, error) {
	opts = append([]client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}, opts...)
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &APIManager{cli: cli}, nil
}

// Close releases the API client
func (a *APIManager) Close() error {
	return a.cli.Close()
}

// InspectImage returns the local image ID for ref
func (a *APIManager) InspectImage(ctx context.Context, ref string) (string, error) {
	inspect, _, err := a.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}
	return inspect.ID, nil
}

// PullImage pulls ref and renders the progress stream to w
func (a *APIManager) PullImage(ctx context.Context, ref string, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}
	reader, err := a.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// Errors reported inside the stream surface here
	if err := jsonmessage.DisplayJSONMessagesStream(reader, w, 0, false, nil); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// BuildImage tars the context directory and builds it
func (a *APIManager) BuildImage(ctx context.Context, cfg BuildConfig, w io.Writer) error {
	if w == nil {
		w = io.Discard
	}
	tar, err := archive.TarWithOptions(cfg.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	dockerfile := cfg.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	resp, err := a.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{cfg.Tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", cfg.Tag, err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, w, 0, false, nil); err != nil {
		return fmt.Errorf("failed to build image %s: %w", cfg.Tag, err)
	}
	return nil
}

// Create creates a container from cfg
func (a *APIManager) Create(ctx context.Context, cfg ContainerConfig) (ContainerID, error) {
	volumes := make(map[string]struct{}, len(cfg.Volumes))
	for _, v := range cfg.Volumes {
		volumes[v] = struct{}{}
	}
	volumesFrom := make([]string, 0, len(cfg.VolumesFrom))
	for _, id := range cfg.VolumesFrom {
		volumesFrom = append(volumesFrom, string(id))
	}

	containerCfg := &dockercontainer.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Cmd,
		Entrypoint: cfg.Entrypoint,
		Env:        sortedEnv(cfg.Env),
		WorkingDir: cfg.WorkDir,
		Labels:     cfg.Labels,
		Volumes:    volumes,
		OpenStdin:  cfg.Interactive,
	}
	hostCfg := &dockercontainer.HostConfig{
		VolumesFrom: volumesFrom,
		NetworkMode: dockercontainer.NetworkMode(cfg.Network),
	}

	resp, err := a.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return ContainerID(resp.ID), nil
}

// Start starts a created container
func (a *APIManager) Start(ctx context.Context, id ContainerID) error {
	if err := a.cli.ContainerStart(ctx, string(id), types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Attach hijacks the container's stdin and demultiplexes its stdout
func (a *APIManager) Attach(ctx context.Context, id ContainerID) (io.ReadWriteCloser, error) {
	hijacked, err := a.cli.ContainerAttach(ctx, string(id), types.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach container: %w", err)
	}

	r, w := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(w, io.Discard, hijacked.Reader)
		w.CloseWithError(err)
	}()

	return &hijackedStream{reader: r, resp: hijacked}, nil
}

// IsRunning reports whether the container is running
func (a *APIManager) IsRunning(ctx context.Context, id ContainerID) (bool, error) {
	inspect, err := a.cli.ContainerInspect(ctx, string(id))
	if err != nil {
		return false, fmt.Errorf("failed to inspect container: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Exec runs cfg.Cmd in the container and returns the exit code
func (a *APIManager) Exec(ctx context.Context, id ContainerID, cfg ExecConfig) (int, error) {
	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = stdout
	}

	created, err := a.cli.ContainerExecCreate(ctx, string(id), types.ExecConfig{
		Cmd:          cfg.Cmd,
		Env:          sortedEnv(cfg.Env),
		WorkingDir:   cfg.WorkDir,
		AttachStdin:  cfg.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to create exec: %w", err)
	}

	hijacked, err := a.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, fmt.Errorf("failed to start exec: %w", err)
	}
	defer hijacked.Close()

	if cfg.Stdin != nil {
		go func() {
			_, _ = io.Copy(hijacked.Conn, cfg.Stdin)
			_ = hijacked.CloseWrite()
		}()
	}

	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return -1, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	inspect, err := a.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return inspect.ExitCode, nil
}

// Logs returns the demultiplexed container logs
func (a *APIManager) Logs(ctx context.Context, id ContainerID) (io.ReadCloser, error) {
	raw, err := a.cli.ContainerLogs(ctx, string(id), types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	r, w := io.Pipe()
	go func() {
		defer raw.Close()
		_, err := stdcopy.StdCopy(w, w, raw)
		w.CloseWithError(err)
	}()
	return r, nil
}

// Stop stops the container, treating an absent container as stopped
func (a *APIManager) Stop(ctx context.Context, id ContainerID, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	err := a.cli.ContainerStop(ctx, string(id), dockercontainer.StopOptions{Timeout: &secs})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove force-removes the container and its anonymous volumes
func (a *APIManager) Remove(ctx context.Context, id ContainerID) error {
	err := a.cli.ContainerRemove(ctx, string(id), types.ContainerRemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// ListByLabel lists all containers with the given label filter
func (a *APIManager) ListByLabel(ctx context.Context, label string) ([]ContainerID, error) {
	containers, err := a.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]ContainerID, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, ContainerID(c.ID))
	}
	return ids, nil
}

type hijackedStream struct {
	reader *io.PipeReader
	resp   types.HijackedResponse
}

func (h *hijackedStream) Read(p []byte) (int, error)  { return h.reader.Read(p) }
func (h *hijackedStream) Write(p []byte) (int, error) { return h.resp.Conn.Write(p) }

func (h *hijackedStream) Close() error {
	h.resp.Close()
	return h.reader.Close()
}

var _ Manager = (*APIManager)(nil)
