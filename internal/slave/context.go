package slave

import (
	"fmt"
	"sync"

	"github.com/RevCBH/dockerslaves/internal/container"
)

// ContainersContext tracks the containers created for one build and its
// phase. Only the Provisioner writes to it.
type ContainersContext struct {
	job          string
	provisioning string

	mu         sync.RWMutex
	build      string
	phase      Phase
	containers []*container.Container
}

// ContainerInfo describes a tracked container.
type ContainerInfo struct {
	ID    container.ContainerID
	Name  string
	Role  container.Role
	Image string
	Live  bool
}

// Snapshot is a point-in-time copy of a ContainersContext.
type Snapshot struct {
	Job          string
	Build        string
	Provisioning string
	Phase        Phase
	Containers   []ContainerInfo
}

func newContainersContext(job, provisioning string) *ContainersContext {
	return &ContainersContext{
		job:          job,
		provisioning: provisioning,
		phase:        PhaseProvisioningRemoting,
	}
}

// Job returns the job the context was provisioned for.
func (c *ContainersContext) Job() string { return c.job }

// ProvisioningID returns the unique ID of the node request.
func (c *ContainersContext) ProvisioningID() string { return c.provisioning }

// Build returns the build identity, empty until the build is attached.
func (c *ContainersContext) Build() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.build
}

// Phase returns the current phase.
func (c *ContainersContext) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Containers returns the tracked containers in creation order.
func (c *ContainersContext) Containers() []*container.Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*container.Container, len(c.containers))
	copy(out, c.containers)
	return out
}

// ByRole returns the tracked containers holding role, in creation order.
func (c *ContainersContext) ByRole(role container.Role) []*container.Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*container.Container
	for _, ctr := range c.containers {
		if ctr.Role == role {
			out = append(out, ctr)
		}
	}
	return out
}

// Snapshot returns a copy safe to hand to readers.
func (c *ContainersContext) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Job:          c.job,
		Build:        c.build,
		Provisioning: c.provisioning,
		Phase:        c.phase,
		Containers:   make([]ContainerInfo, 0, len(c.containers)),
	}
	for _, ctr := range c.containers {
		s.Containers = append(s.Containers, ContainerInfo{
			ID:    ctr.ID,
			Name:  ctr.Name,
			Role:  ctr.Role,
			Image: ctr.Image,
			Live:  ctr.Live(),
		})
	}
	return s
}

func (c *ContainersContext) add(ctr *container.Container) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseTerminated {
		return ErrTerminated
	}
	if ctr.Role == container.RoleRemoting {
		for _, existing := range c.containers {
			if existing.Role == container.RoleRemoting {
				return fmt.Errorf("remoting container already tracked: %s", existing.Name)
			}
		}
	}
	c.containers = append(c.containers, ctr)
	return nil
}

func (c *ContainersContext) advance(to Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to < c.phase {
		return fmt.Errorf("%w: %s to %s", ErrPhaseRegression, c.phase, to)
	}
	c.phase = to
	return nil
}

func (c *ContainersContext) setBuild(build string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.build != "" && c.build != build {
		return fmt.Errorf("context already attached to build %s", c.build)
	}
	c.build = build
	return nil
}
