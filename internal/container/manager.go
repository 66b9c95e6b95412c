package container

import (
	"context"
	"io"
	"time"
)

// Manager provides container lifecycle management against a local runtime daemon.
// Implementations must be safe for concurrent use.
type Manager interface {
	// InspectImage returns the local image ID for ref.
	// An error means the image is absent or the daemon could not answer.
	InspectImage(ctx context.Context, ref string) (string, error)

	// PullImage fetches ref from its registry, streaming progress to w.
	PullImage(ctx context.Context, ref string, w io.Writer) error

	// BuildImage builds and tags an image from a Dockerfile, streaming progress to w.
	BuildImage(ctx context.Context, cfg BuildConfig, w io.Writer) error

	// Create creates a new container but does not start it.
	// Returns the container ID on success.
	Create(ctx context.Context, cfg ContainerConfig) (ContainerID, error)

	// Start starts a previously created container.
	Start(ctx context.Context, id ContainerID) error

	// Attach connects to the stdin/stdout of a running interactive container.
	// Closing the returned stream detaches.
	Attach(ctx context.Context, id ContainerID) (io.ReadWriteCloser, error)

	// IsRunning reports whether the container exists and is running.
	IsRunning(ctx context.Context, id ContainerID) (bool, error)

	// Exec runs a process inside a running container and waits for it.
	// A non-zero exit code is returned with a nil error; the error is
	// reserved for failures to invoke the process or to wait for it.
	Exec(ctx context.Context, id ContainerID, cfg ExecConfig) (exitCode int, err error)

	// Logs returns the output the container produced so far (stdout and
	// stderr combined). The stream ends at the current end of the log.
	// The caller must close the returned ReadCloser.
	Logs(ctx context.Context, id ContainerID) (io.ReadCloser, error)

	// Stop stops a running container. Sends SIGTERM, waits for timeout,
	// then sends SIGKILL if still running. Stopping an absent container succeeds.
	Stop(ctx context.Context, id ContainerID, timeout time.Duration) error

	// Remove force-removes a container and its anonymous volumes.
	// Removing an absent container succeeds.
	Remove(ctx context.Context, id ContainerID) error

	// ListByLabel returns all containers, running or not, carrying label
	// (either "key" or "key=value").
	ListByLabel(ctx context.Context, label string) ([]ContainerID, error)
}
