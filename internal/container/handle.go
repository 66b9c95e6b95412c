package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Container is a handle to one container created for a build.
// Once Stop has been called no process may be started in it.
type Container struct {
	ID    ContainerID
	Name  string
	Role  Role
	Image string

	mgr Manager

	mu       sync.Mutex
	stopping bool // set on the first Stop call, blocks new Exec calls
	stopped  bool // runtime confirmed the stop
	removed  bool
	channel  io.ReadWriteCloser
}

// NewContainer wraps a created container.
func NewContainer(mgr Manager, id ContainerID, name string, role Role, image string) *Container {
	return &Container{
		ID:    id,
		Name:  name,
		Role:  role,
		Image: image,
		mgr:   mgr,
	}
}

// Live reports whether the container may still run processes.
func (c *Container) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.stopping && !c.removed
}

// Removed reports whether the container was removed from the runtime.
func (c *Container) Removed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

// SetChannel records the attached control stream of the container.
// It is closed on Stop.
func (c *Container) SetChannel(ch io.ReadWriteCloser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = ch
}

// Channel returns the attached control stream, nil if none.
func (c *Container) Channel() io.ReadWriteCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Exec runs a process inside the container and blocks until it exits.
// The exit code of the process is returned as is; an *ExecError is
// returned when the container is not live or the invocation fails.
func (c *Container) Exec(ctx context.Context, cfg ExecConfig) (int, error) {
	if !c.Live() {
		return -1, &ExecError{Container: c.Name, Command: cfg.Cmd, Err: ErrNotLive}
	}

	running, err := c.mgr.IsRunning(ctx, c.ID)
	if err != nil {
		return -1, &ExecError{Container: c.Name, Command: cfg.Cmd, Err: err}
	}
	if !running {
		return -1, &ExecError{Container: c.Name, Command: cfg.Cmd, Err: ErrNotLive}
	}

	code, err := c.mgr.Exec(ctx, c.ID, cfg)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return -1, &ExecError{Container: c.Name, Command: cfg.Cmd, Err: err}
	}
	return code, nil
}

// CopyLogs writes the output the container produced so far to w, each
// line prefixed with the container name.
func (c *Container) CopyLogs(ctx context.Context, w io.Writer) error {
	rc, err := c.mgr.Logs(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("logs %s: %w", c.Name, err)
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fmt.Fprintf(w, "[%s] %s\n", c.Name, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("logs %s: %w", c.Name, err)
	}
	return nil
}

// Stop stops the container. Calling it again after a successful stop is
// a no-op without runtime invocation.
func (c *Container) Stop(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	if c.stopped || c.removed {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}

	if err := c.mgr.Stop(ctx, c.ID, timeout); err != nil {
		return fmt.Errorf("stop %s: %w", c.Name, err)
	}

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

// Remove removes the container. Calling it again after a successful
// removal is a no-op without runtime invocation.
func (c *Container) Remove(ctx context.Context) error {
	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	if err := c.mgr.Remove(ctx, c.ID); err != nil {
		return fmt.Errorf("remove %s: %w", c.Name, err)
	}

	c.mu.Lock()
	c.removed = true
	c.stopped = true
	c.mu.Unlock()
	return nil
}

// String returns "name (role)".
func (c *Container) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Role)
}
