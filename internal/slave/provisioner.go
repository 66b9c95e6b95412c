package slave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/RevCBH/dockerslaves/internal/container"
	"github.com/RevCBH/dockerslaves/internal/events"
	"github.com/RevCBH/dockerslaves/internal/image"
)

const (
	DefaultNamePrefix     = "dockerslaves"
	DefaultWorkspace      = "/home/jenkins"
	DefaultStopTimeout    = 10 * time.Second
	DefaultCleanupTimeout = 30 * time.Second
)

// ChannelConnector hands the attached control stream of the remoting
// container to the host. A returned error fails provisioning.
type ChannelConnector func(ctx context.Context, c *container.Container, ch io.ReadWriteCloser) error

// RemotingOptions configures the remoting container.
type RemotingOptions struct {
	Definition image.Definition
	Command    []string
	Env        map[string]string
}

// SideContainer is a supporting service started with the build container.
type SideContainer struct {
	Name       string
	Definition image.Definition
	Env        map[string]string
}

// ContainerSet is the build container set declared by a job.
type ContainerSet struct {
	Main image.Definition
	Side []SideContainer
}

// Options configures a Provisioner.
type Options struct {
	// Job is the job the environment is provisioned for
	Job string

	// ProvisioningID identifies the node request; a ULID is generated when empty
	ProvisioningID string

	// NamePrefix starts every container name (default: dockerslaves)
	NamePrefix string

	// Workspace is the shared working directory (default: /home/jenkins)
	Workspace string

	Remoting RemotingOptions
	Scm      image.Definition
	Build    ContainerSet

	// Env is set in every container of the build
	Env map[string]string

	// StopTimeout is the grace period given to a container on stop
	StopTimeout time.Duration

	// CleanupTimeout bounds the stop and removal of a single container
	CleanupTimeout time.Duration

	// Events receives lifecycle events; nil disables them
	Events *events.Bus

	Logger *slog.Logger
}

// Provisioner creates the containers of one build in order, routes process
// launches to them by phase and removes them all on Clean.
//
// Methods are called sequentially by the build, except Clean which may run
// while LaunchBuildProcess is blocked and interrupts it.
type Provisioner struct {
	mgr      container.Manager
	resolver *image.Resolver
	bridge   *Bridge
	opts     Options
	logger   *slog.Logger
	cc       *ContainersContext

	// opMu serializes operations that create or remove containers. It is
	// not held while a build process runs.
	opMu sync.Mutex

	mu    sync.Mutex
	state State

	abortCtx context.Context
	abort    context.CancelFunc

	remoting *container.Container
	scm      *container.Container
	build    *container.Container
	side     []*container.Container
}

// New creates a Provisioner in the Idle state.
func New(mgr container.Manager, opts Options) *Provisioner {
	if opts.ProvisioningID == "" {
		opts.ProvisioningID = strings.ToLower(ulid.Make().String())
	}
	if opts.NamePrefix == "" {
		opts.NamePrefix = DefaultNamePrefix
	}
	if opts.Workspace == "" {
		opts.Workspace = DefaultWorkspace
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("job", opts.Job, "provisioning", opts.ProvisioningID)

	abortCtx, abort := context.WithCancel(context.Background())
	return &Provisioner{
		mgr:      mgr,
		resolver: image.NewResolver(mgr, logger),
		bridge:   NewBridge(logger),
		opts:     opts,
		logger:   logger,
		cc:       newContainersContext(opts.Job, opts.ProvisioningID),
		state:    StateIdle,
		abortCtx: abortCtx,
		abort:    abort,
	}
}

// State returns the current state.
func (p *Provisioner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Context returns the containers context of the build.
func (p *Provisioner) Context() *ContainersContext {
	return p.cc
}

// ProvisioningID returns the ID of the node request.
func (p *Provisioner) ProvisioningID() string {
	return p.opts.ProvisioningID
}

// LaunchRemotingContainer resolves the remoting image, starts the remoting
// container, attaches its streams and hands the channel to connect.
// Any failure cleans up and returns a *ProvisioningError.
func (p *Provisioner) LaunchRemotingContainer(ctx context.Context, connect ChannelConnector, log io.Writer) error {
	log = sink(log)
	p.opMu.Lock()
	defer p.opMu.Unlock()

	switch st := p.State(); {
	case st.Done():
		return ErrTerminated
	case st != StateIdle:
		return fmt.Errorf("%w: remoting container already launched", ErrInvalidTransition)
	}

	ctx, cancel := p.withAbort(ctx)
	defer cancel()

	p.emit(p.event(events.ProvisioningStarted))
	fmt.Fprintf(log, "Provisioning build environment %s for %s\n", p.opts.ProvisioningID, p.opts.Job)

	c, err := p.launch(ctx, container.RoleRemoting, p.opts.Remoting.Definition, container.ContainerConfig{
		Name:        p.containerName(container.RoleRemoting, ""),
		Env:         p.env(p.opts.Remoting.Env),
		Cmd:         p.opts.Remoting.Command,
		WorkDir:     p.opts.Workspace,
		Interactive: true,
		Labels:      p.labels(container.RoleRemoting),
		Volumes:     []string{p.opts.Workspace},
	}, log)
	if err != nil {
		return p.fail(ctx, log, err)
	}
	p.remoting = c

	// The channel lives until cleanup, not until this call returns
	ch, err := p.mgr.Attach(p.abortCtx, c.ID)
	if err != nil {
		return p.fail(ctx, log, &ProvisioningError{
			Role:  container.RoleRemoting,
			Image: c.Image,
			Err:   fmt.Errorf("attach channel: %w", err),
		})
	}
	c.SetChannel(ch)

	if connect != nil {
		if err := connect(ctx, c, ch); err != nil {
			return p.fail(ctx, log, &ProvisioningError{
				Role:  container.RoleRemoting,
				Image: c.Image,
				Err:   fmt.Errorf("connect channel: %w", err),
			})
		}
	}
	p.emit(p.containerEvent(events.ContainerChannelOpened, c))

	p.transition(StateRemotingUp)
	return nil
}

// AttachBuild records the build identity once the host started the build.
func (p *Provisioner) AttachBuild(build string) error {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()

	switch {
	case st.Done():
		return ErrTerminated
	case st == StateIdle:
		return fmt.Errorf("%w: no remoting container", ErrInvalidTransition)
	}

	if err := p.cc.setBuild(build); err != nil {
		return err
	}
	p.logger.Debug("build attached", "build", build)
	p.emit(p.event(events.BuildAttached))

	if st == StateRemotingUp {
		p.transition(StateAwaitingBuildStart)
	}
	return nil
}

// LaunchScmContainer starts the container for source checkout. It shares
// the workspace volume and network of the remoting container. In ScmPhase
// the existing container is returned.
func (p *Provisioner) LaunchScmContainer(ctx context.Context, log io.Writer) (*container.Container, error) {
	log = sink(log)
	p.opMu.Lock()
	defer p.opMu.Unlock()

	switch st := p.State(); st {
	case StateRemotingUp, StateAwaitingBuildStart:
	case StateScmPhase:
		return p.scm, nil
	case StateBuildPhase:
		return nil, fmt.Errorf("%w: checkout already completed", ErrPhaseRegression)
	case StateIdle:
		return nil, fmt.Errorf("%w: no remoting container", ErrInvalidTransition)
	default:
		return nil, ErrTerminated
	}

	ctx, cancel := p.withAbort(ctx)
	defer cancel()

	c, err := p.launch(ctx, container.RoleScm, p.opts.Scm, p.sharedConfig(container.RoleScm, "", nil), log)
	if err != nil {
		return nil, p.fail(ctx, log, err)
	}
	p.scm = c

	p.transition(StateScmPhase)
	return c, nil
}

// CheckoutCompleted switches process launches from the SCM container to the
// build container set. The SCM container keeps running. Repeated calls are
// no-ops.
func (p *Provisioner) CheckoutCompleted() error {
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()

	switch st {
	case StateScmPhase, StateAwaitingBuildStart:
		p.transition(StateBuildPhase)
		return nil
	case StateBuildPhase:
		return nil
	case StateCleaning, StateTerminated:
		return ErrTerminated
	}
	return fmt.Errorf("%w: checkout completed in state %s", ErrInvalidTransition, st)
}

// LaunchBuildContainers creates the build container set: side containers
// first, then the main build container. It is only allowed in BuildPhase
// and reuses an existing set.
func (p *Provisioner) LaunchBuildContainers(ctx context.Context, log io.Writer) error {
	log = sink(log)
	p.opMu.Lock()
	defer p.opMu.Unlock()

	switch st := p.State(); {
	case st.Done():
		return ErrTerminated
	case st != StateBuildPhase:
		return fmt.Errorf("%w: build containers requested in state %s", ErrInvalidTransition, st)
	}
	return p.launchBuildSetLocked(ctx, log)
}

// LaunchBuildProcess runs proc in the SCM container during ScmPhase and in
// the main build container during BuildPhase, launching the build set on
// first use. It returns the exit code of the process. With no live target
// it fails with *container.ExecError without starting anything.
func (p *Provisioner) LaunchBuildProcess(ctx context.Context, proc ProcStarter, log io.Writer) (int, error) {
	log = sink(log)

	p.opMu.Lock()
	st := p.State()
	var target *container.Container
	switch st {
	case StateScmPhase:
		target = p.scm
	case StateBuildPhase:
		if err := p.launchBuildSetLocked(ctx, log); err != nil {
			p.opMu.Unlock()
			return -1, err
		}
		target = p.build
	}
	p.opMu.Unlock()

	if target == nil {
		return -1, &container.ExecError{
			Command: proc.Cmd,
			Err:     fmt.Errorf("%w: no container accepts processes in state %s", container.ErrNotLive, st),
		}
	}

	ctx, cancel := p.withAbort(ctx)
	defer cancel()

	p.emit(p.containerEvent(events.ProcessStarted, target).
		WithPayload(map[string]interface{}{"command": CommandLine(proc.Cmd)}))

	code, err := p.bridge.Run(ctx, target, proc, log)
	if err != nil {
		p.emit(p.containerEvent(events.ProcessFailed, target).WithError(err))
		return code, err
	}
	p.emit(p.containerEvent(events.ProcessExited, target).WithExitCode(code))
	return code, nil
}

// Clean interrupts running processes, then stops and removes every tracked
// container in reverse creation order, each bounded by the cleanup timeout.
// A removal failure does not stop the others; failures are returned as a
// *CleanupError. The provisioner always ends Terminated and later calls do
// nothing.
func (p *Provisioner) Clean(ctx context.Context, log io.Writer) error {
	p.abort()
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.cleanLocked(ctx, sink(log))
}

func (p *Provisioner) cleanLocked(ctx context.Context, log io.Writer) error {
	p.mu.Lock()
	if p.state == StateTerminated {
		p.mu.Unlock()
		return nil
	}
	p.state = StateCleaning
	p.mu.Unlock()
	p.abort()

	containers := p.cc.Containers()
	p.emit(p.event(events.CleanupStarted))
	if len(containers) > 0 {
		fmt.Fprintf(log, "Removing %d container(s)\n", len(containers))
	}

	// Cleanup must run even when the caller's context is already done
	base := context.WithoutCancel(ctx)

	var failures []CleanupFailure
	for i := len(containers) - 1; i >= 0; i-- {
		c := containers[i]
		if c.Role == container.RoleSide {
			p.dumpLogs(base, c, log)
		}
		cctx, cancel := context.WithTimeout(base, p.opts.CleanupTimeout)
		if err := c.Stop(cctx, p.opts.StopTimeout); err != nil {
			p.logger.Warn("stop failed, forcing removal", "container", c.Name, "error", err)
		}
		err := c.Remove(cctx)
		cancel()

		if err != nil {
			failures = append(failures, CleanupFailure{Container: c.Name, ID: c.ID, Err: err})
			fmt.Fprintf(log, "Failed to remove %s: %v\n", c, err)
			p.emit(p.containerEvent(events.ContainerRemoveFailed, c).WithError(err))
			continue
		}
		p.emit(p.containerEvent(events.ContainerRemoved, c))
	}

	p.transition(StateTerminated)

	if len(failures) > 0 {
		err := &CleanupError{Failures: failures}
		p.logger.Error("cleanup incomplete", "error", err)
		p.emit(p.event(events.CleanupFailed).WithError(err))
		return err
	}
	p.emit(p.event(events.CleanupCompleted))
	return nil
}

// dumpLogs copies the output of a side container to the build log before
// it is removed. Side containers run their own entrypoint, so this is the
// only place their output shows up.
func (p *Provisioner) dumpLogs(ctx context.Context, c *container.Container, log io.Writer) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.CleanupTimeout)
	defer cancel()

	fmt.Fprintf(log, "Output of %s:\n", c)
	if err := c.CopyLogs(ctx, log); err != nil {
		fmt.Fprintf(log, "Could not read output of %s: %v\n", c, err)
		p.logger.Warn("container logs unavailable", "container", c.Name, "error", err)
	}
}

func (p *Provisioner) launchBuildSetLocked(ctx context.Context, log io.Writer) error {
	if p.build != nil {
		return nil
	}

	ctx, cancel := p.withAbort(ctx)
	defer cancel()

	for _, side := range p.opts.Build.Side {
		cfg := p.sharedConfig(container.RoleSide, side.Name, side.Env)
		// Side containers run their own entrypoint
		cfg.Entrypoint = nil
		cfg.Interactive = false
		c, err := p.launch(ctx, container.RoleSide, side.Definition, cfg, log)
		if err != nil {
			return p.fail(ctx, log, err)
		}
		p.side = append(p.side, c)
	}

	c, err := p.launch(ctx, container.RoleBuild, p.opts.Build.Main, p.sharedConfig(container.RoleBuild, "", nil), log)
	if err != nil {
		return p.fail(ctx, log, err)
	}
	p.build = c
	return nil
}

// launch resolves def, then creates and starts a container. The container
// is tracked as soon as it exists so cleanup can find it.
func (p *Provisioner) launch(ctx context.Context, role container.Role, def image.Definition, cfg container.ContainerConfig, log io.Writer) (*container.Container, error) {
	ref, err := p.resolver.Resolve(ctx, def, log)
	if err != nil {
		p.emit(p.event(events.ImageFailed).WithImage(definitionImage(def)).WithError(err))
		return nil, &ProvisioningError{Role: role, Image: definitionImage(def), Err: err}
	}
	p.emit(p.event(events.ImageResolved).WithImage(ref))

	cfg.Image = ref
	id, err := p.mgr.Create(ctx, cfg)
	if err != nil {
		return nil, &ProvisioningError{Role: role, Image: ref, Err: err}
	}

	c := container.NewContainer(p.mgr, id, cfg.Name, role, ref)
	if err := p.cc.add(c); err != nil {
		return nil, &ProvisioningError{Role: role, Image: ref, Err: err}
	}
	p.emit(p.containerEvent(events.ContainerCreated, c))

	if err := p.mgr.Start(ctx, id); err != nil {
		return nil, &ProvisioningError{Role: role, Image: ref, Err: fmt.Errorf("start: %w", err)}
	}
	p.emit(p.containerEvent(events.ContainerStarted, c))
	fmt.Fprintf(log, "Started %s container %s\n", role, cfg.Name)
	p.logger.Debug("container started", "role", role, "name", cfg.Name, "id", id)
	return c, nil
}

// fail reports a provisioning failure and cleans up before returning it.
func (p *Provisioner) fail(ctx context.Context, log io.Writer, err error) error {
	fmt.Fprintf(log, "ERROR: %v\n", err)
	p.logger.Error("provisioning failed", "error", err)
	p.emit(p.event(events.ProvisioningFailed).WithError(err))

	if cleanErr := p.cleanLocked(ctx, log); cleanErr != nil {
		return errors.Join(err, cleanErr)
	}
	return err
}

func (p *Provisioner) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	p.logger.Debug("state change", "from", from, "to", to)
	if to.Phase() == p.cc.Phase() {
		return
	}
	if err := p.cc.advance(to.Phase()); err != nil {
		p.logger.Error("phase not advanced", "error", err)
		return
	}
	p.emit(p.event(events.PhaseChanged).WithPhase(to.Phase().String()))
}

// withAbort returns a context that also ends when Clean is called.
func (p *Provisioner) withAbort(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.abortCtx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// sharedConfig is the configuration of containers joining the remoting
// container's workspace volume and network namespace.
func (p *Provisioner) sharedConfig(role container.Role, suffix string, env map[string]string) container.ContainerConfig {
	remoting := p.remoting.ID
	return container.ContainerConfig{
		Name:        p.containerName(role, suffix),
		Env:         p.env(env),
		Entrypoint:  []string{"cat"},
		WorkDir:     p.opts.Workspace,
		Interactive: true,
		Labels:      p.labels(role),
		VolumesFrom: []container.ContainerID{remoting},
		Network:     "container:" + string(remoting),
	}
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

func (p *Provisioner) containerName(role container.Role, suffix string) string {
	parts := []string{p.opts.NamePrefix, p.opts.Job, p.opts.ProvisioningID, string(role)}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	name := invalidNameChars.ReplaceAllString(strings.Join(parts, "-"), "-")
	return strings.Trim(name, "-._")
}

func (p *Provisioner) labels(role container.Role) map[string]string {
	return map[string]string{
		container.LabelProvisioning: p.opts.ProvisioningID,
		container.LabelJob:          p.opts.Job,
		container.LabelRole:         string(role),
	}
}

func (p *Provisioner) env(extra map[string]string) map[string]string {
	env := make(map[string]string, len(p.opts.Env)+len(extra))
	for k, v := range p.opts.Env {
		env[k] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func (p *Provisioner) event(t events.EventType) events.Event {
	return events.NewEvent(t, p.opts.ProvisioningID).
		WithJob(p.opts.Job).
		WithBuild(p.cc.Build())
}

func (p *Provisioner) containerEvent(t events.EventType, c *container.Container) events.Event {
	return p.event(t).
		WithContainer(string(c.Role), c.Name, string(c.ID)).
		WithImage(c.Image)
}

func (p *Provisioner) emit(e events.Event) {
	p.opts.Events.Emit(e)
}

func definitionImage(def image.Definition) string {
	switch d := def.(type) {
	case image.Reference:
		return d.Image()
	case image.Dockerfile:
		return d.Tag()
	case nil:
		return ""
	}
	return def.String()
}

func sink(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
