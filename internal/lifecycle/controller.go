package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/RevCBH/dockerslaves/internal/container"
	"github.com/RevCBH/dockerslaves/internal/events"
	"github.com/RevCBH/dockerslaves/internal/slave"
)

var (
	// ErrHandleConsumed is returned when a provisioning handle is used after
	// its containers moved to a build or were cleaned up.
	ErrHandleConsumed = errors.New("provisioning handle already consumed")

	// ErrUnknownBuild is returned for a build the controller does not track.
	ErrUnknownBuild = errors.New("unknown build")
)

// NodeProvisioner is the provisioning capability the host drives through
// the node lifecycle.
type NodeProvisioner interface {
	LaunchRemotingContainer(ctx context.Context, connect slave.ChannelConnector, log io.Writer) error
	AttachBuild(build string) error
	LaunchScmContainer(ctx context.Context, log io.Writer) (*container.Container, error)
	CheckoutCompleted() error
	Clean(ctx context.Context, log io.Writer) error
	State() slave.State
	ProvisioningID() string
	Context() *slave.ContainersContext
}

// ProcessLauncher runs build processes in the build environment.
type ProcessLauncher interface {
	LaunchBuildProcess(ctx context.Context, proc slave.ProcStarter, log io.Writer) (int, error)
}

// Environment is a provisioned build environment.
type Environment interface {
	NodeProvisioner
	ProcessLauncher
}

var _ Environment = (*slave.Provisioner)(nil)

// Factory creates the environment for a job. Events emitted by the
// environment should go to bus.
type Factory func(job JobIdentity, bus *events.Bus) (Environment, error)

// ProvisioningHandle is returned by NodeRequested. It owns the environment
// until BuildEnvironmentSetup moves it to a BuildContext.
type ProvisioningHandle struct {
	job JobIdentity
	id  string

	mu  sync.Mutex
	env Environment
}

// Job returns the job the node was requested for.
func (h *ProvisioningHandle) Job() JobIdentity { return h.job }

// ProvisioningID returns the ID of the node request.
func (h *ProvisioningHandle) ProvisioningID() string { return h.id }

// Consumed reports whether the environment left the handle.
func (h *ProvisioningHandle) Consumed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.env == nil
}

// BuildContext owns the environment of a started build.
type BuildContext struct {
	Build BuildIdentity
	env   Environment
}

// Snapshot returns the containers and phase of the build.
func (b *BuildContext) Snapshot() slave.Snapshot {
	return b.env.Context().Snapshot()
}

// ProvisioningID returns the ID of the node request the build runs on.
func (b *BuildContext) ProvisioningID() string {
	return b.env.ProvisioningID()
}

// Controller implements the host lifecycle hooks. Builds are keyed by
// build identity.
type Controller struct {
	factory   Factory
	connector slave.ChannelConnector
	bus       *events.Bus
	ownsBus   bool
	logger    *slog.Logger

	mu        sync.Mutex
	pending   map[string]*ProvisioningHandle
	builds    map[string]*BuildContext
	attaching map[string]struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithConnector sets the callback receiving remoting channels.
func WithConnector(connect slave.ChannelConnector) Option {
	return func(c *Controller) { c.connector = connect }
}

// WithEvents makes the controller publish on bus instead of its own.
func WithEvents(bus *events.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates a Controller.
func NewController(factory Factory, opts ...Option) *Controller {
	c := &Controller{
		factory: factory,
		pending:   make(map[string]*ProvisioningHandle),
		builds:    make(map[string]*BuildContext),
		attaching: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = events.NewBus(256)
		c.ownsBus = true
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// OnEvent registers a listener for the events of every build.
func (c *Controller) OnEvent(h events.Handler) {
	c.bus.Subscribe(h)
}

// Close flushes pending events. It does not clean up builds; see Shutdown.
func (c *Controller) Close() error {
	if c.ownsBus {
		return c.bus.Close()
	}
	return nil
}

// NodeRequested provisions the remoting container for job and returns a
// handle once it is up. On failure the environment is already cleaned up
// and the failure is reported on log.
func (c *Controller) NodeRequested(ctx context.Context, job JobIdentity, log io.Writer) (*ProvisioningHandle, error) {
	if log == nil {
		log = io.Discard
	}
	env, err := c.factory(job, c.bus)
	if err != nil {
		fmt.Fprintf(log, "could not provision build environment: %v\n", err)
		return nil, err
	}

	if err := env.LaunchRemotingContainer(ctx, c.connector, log); err != nil {
		fmt.Fprintf(log, "could not provision build environment: %v\n", err)
		c.logger.Error("node request failed", "job", job.Name, "error", err)
		return nil, err
	}

	h := &ProvisioningHandle{job: job, id: env.ProvisioningID(), env: env}
	c.mu.Lock()
	c.pending[h.id] = h
	c.mu.Unlock()
	c.logger.Debug("node provisioned", "job", job.Name, "provisioning", h.id)
	return h, nil
}

// BuildEnvironmentSetup attaches the build to the environment of handle and
// moves the environment into the returned BuildContext. The handle cannot
// be used afterwards.
func (c *Controller) BuildEnvironmentSetup(h *ProvisioningHandle, build BuildIdentity) (*BuildContext, error) {
	if build.Job != h.job.Name {
		return nil, fmt.Errorf("build %s does not belong to job %s", build, h.job.Name)
	}

	key := build.String()

	// The identity stays reserved while the build attaches, so a concurrent
	// setup of the same build on another handle is rejected
	c.mu.Lock()
	if _, exists := c.builds[key]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("build %s already has an environment", build)
	}
	if _, busy := c.attaching[key]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("build %s is already being set up", build)
	}
	c.attaching[key] = struct{}{}
	c.mu.Unlock()

	bc, err := c.attach(h, build)

	c.mu.Lock()
	delete(c.attaching, key)
	if err == nil {
		delete(c.pending, h.id)
		c.builds[key] = bc
	}
	c.mu.Unlock()
	return bc, err
}

func (c *Controller) attach(h *ProvisioningHandle, build BuildIdentity) (*BuildContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.env == nil {
		return nil, ErrHandleConsumed
	}
	if err := h.env.AttachBuild(build.String()); err != nil {
		return nil, fmt.Errorf("attach build %s: %w", build, err)
	}

	bc := &BuildContext{Build: build, env: h.env}
	h.env = nil
	return bc, nil
}

// ScmCheckoutCompleted switches the build to its build container set.
func (c *Controller) ScmCheckoutCompleted(build BuildIdentity) error {
	bc, err := c.lookup(build)
	if err != nil {
		return err
	}
	return bc.env.CheckoutCompleted()
}

// Launcher returns the process launcher of build. Processes launched before
// checkout completed run in the SCM container, which is started on first
// use; later ones run in the build container set.
func (c *Controller) Launcher(build BuildIdentity) (ProcessLauncher, error) {
	bc, err := c.lookup(build)
	if err != nil {
		return nil, err
	}
	return &buildLauncher{env: bc.env}, nil
}

// NodeTerminate cleans up the environment of build. It is the one cleanup
// trigger the host guarantees and runs whatever phase the build reached.
func (c *Controller) NodeTerminate(ctx context.Context, build BuildIdentity, log io.Writer) error {
	c.mu.Lock()
	bc, ok := c.builds[build.String()]
	delete(c.builds, build.String())
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBuild, build)
	}
	return c.clean(ctx, bc.env, log)
}

// AbandonHandle cleans up a node whose build never started.
func (c *Controller) AbandonHandle(ctx context.Context, h *ProvisioningHandle, log io.Writer) error {
	h.mu.Lock()
	env := h.env
	h.env = nil
	h.mu.Unlock()
	if env == nil {
		return ErrHandleConsumed
	}

	c.mu.Lock()
	delete(c.pending, h.id)
	c.mu.Unlock()
	return c.clean(ctx, env, log)
}

// Builds returns the identities of the builds being tracked, sorted.
func (c *Controller) Builds() []BuildIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BuildIdentity, 0, len(c.builds))
	for _, bc := range c.builds {
		out = append(out, bc.Build)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Shutdown cleans up every tracked build and pending handle.
func (c *Controller) Shutdown(ctx context.Context, log io.Writer) error {
	c.mu.Lock()
	builds := c.builds
	pending := c.pending
	c.builds = make(map[string]*BuildContext)
	c.pending = make(map[string]*ProvisioningHandle)
	c.mu.Unlock()

	var errs []error
	for _, bc := range builds {
		if err := c.clean(ctx, bc.env, log); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", bc.Build, err))
		}
	}
	for _, h := range pending {
		if err := c.AbandonHandle(ctx, h, log); err != nil && !errors.Is(err, ErrHandleConsumed) {
			errs = append(errs, fmt.Errorf("%s: %w", h.job, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) lookup(build BuildIdentity) (*BuildContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bc, ok := c.builds[build.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBuild, build)
	}
	return bc, nil
}

func (c *Controller) clean(ctx context.Context, env Environment, log io.Writer) error {
	if log == nil {
		log = io.Discard
	}
	err := env.Clean(ctx, log)
	if err != nil {
		// Removal failures never keep the build from finishing
		fmt.Fprintf(log, "WARNING: %v\n", err)
		c.logger.Warn("cleanup incomplete", "provisioning", env.ProvisioningID(), "error", err)
	}
	return err
}

type buildLauncher struct {
	env Environment
}

func (l *buildLauncher) LaunchBuildProcess(ctx context.Context, proc slave.ProcStarter, log io.Writer) (int, error) {
	switch l.env.State() {
	case slave.StateRemotingUp, slave.StateAwaitingBuildStart:
		if _, err := l.env.LaunchScmContainer(ctx, log); err != nil {
			return -1, err
		}
	}
	return l.env.LaunchBuildProcess(ctx, proc, log)
}
