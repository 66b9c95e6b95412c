package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/dockerslaves/internal/container"
	"github.com/RevCBH/dockerslaves/internal/events"
	"github.com/RevCBH/dockerslaves/internal/slave"
)

// fakeEnv records lifecycle calls and follows the provisioner's states.
type fakeEnv struct {
	mu    sync.Mutex
	id    string
	state slave.State
	calls []string

	launchErr error
	attachErr error
	scmErr    error
	cleanErr  error

	// attachGate holds AttachBuild until it is closed
	attachGate chan struct{}

	cc *slave.ContainersContext
}

func newFakeEnv(id string) *fakeEnv {
	return &fakeEnv{
		id: id,
		cc: slave.New(nil, slave.Options{Job: "app", ProvisioningID: id}).Context(),
	}
}

func (f *fakeEnv) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEnv) setState(s slave.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeEnv) LaunchRemotingContainer(ctx context.Context, connect slave.ChannelConnector, log io.Writer) error {
	f.record("remoting")
	if f.launchErr != nil {
		f.setState(slave.StateTerminated)
		return f.launchErr
	}
	f.setState(slave.StateRemotingUp)
	return nil
}

func (f *fakeEnv) AttachBuild(build string) error {
	f.record("attach " + build)
	if f.attachGate != nil {
		<-f.attachGate
	}
	if f.attachErr != nil {
		return f.attachErr
	}
	f.setState(slave.StateAwaitingBuildStart)
	return nil
}

func (f *fakeEnv) LaunchScmContainer(ctx context.Context, log io.Writer) (*container.Container, error) {
	f.record("scm")
	if f.scmErr != nil {
		return nil, f.scmErr
	}
	f.setState(slave.StateScmPhase)
	return nil, nil
}

func (f *fakeEnv) CheckoutCompleted() error {
	f.record("checkout")
	f.setState(slave.StateBuildPhase)
	return nil
}

func (f *fakeEnv) Clean(ctx context.Context, log io.Writer) error {
	f.record("clean")
	f.setState(slave.StateTerminated)
	return f.cleanErr
}

func (f *fakeEnv) State() slave.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEnv) ProvisioningID() string             { return f.id }
func (f *fakeEnv) Context() *slave.ContainersContext { return f.cc }

func (f *fakeEnv) LaunchBuildProcess(ctx context.Context, proc slave.ProcStarter, log io.Writer) (int, error) {
	f.record(fmt.Sprintf("exec %s in %s", strings.Join(proc.Cmd, " "), f.State()))
	return 0, nil
}

func (f *fakeEnv) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func controllerWith(envs ...*fakeEnv) *Controller {
	i := 0
	var mu sync.Mutex
	factory := func(job JobIdentity, bus *events.Bus) (Environment, error) {
		mu.Lock()
		defer mu.Unlock()
		env := envs[i]
		i++
		return env, nil
	}
	return NewController(factory, WithLogger(quietLogger()))
}

func TestController_FullLifecycle(t *testing.T) {
	env := newFakeEnv("p1")
	c := controllerWith(env)
	defer c.Close()
	ctx := context.Background()

	h, err := c.NodeRequested(ctx, JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", h.ProvisioningID())
	assert.Equal(t, "app", h.Job().Name)

	build := BuildIdentity{Job: "app", Number: 1}
	bc, err := c.BuildEnvironmentSetup(h, build)
	require.NoError(t, err)
	assert.Equal(t, build, bc.Build)
	assert.Equal(t, "p1", bc.ProvisioningID())
	assert.Equal(t, "app", bc.Snapshot().Job)
	assert.True(t, h.Consumed())

	launcher, err := c.Launcher(build)
	require.NoError(t, err)

	_, err = launcher.LaunchBuildProcess(ctx, slave.ProcStarter{Cmd: []string{"git", "clone"}}, nil)
	require.NoError(t, err)
	require.NoError(t, c.ScmCheckoutCompleted(build))
	_, err = launcher.LaunchBuildProcess(ctx, slave.ProcStarter{Cmd: []string{"make"}}, nil)
	require.NoError(t, err)

	require.NoError(t, c.NodeTerminate(ctx, build, nil))

	assert.Equal(t, []string{
		"remoting",
		"attach app#1",
		"scm",
		"exec git clone in ScmPhase",
		"checkout",
		"exec make in BuildPhase",
		"clean",
	}, env.callLog())
	assert.Empty(t, c.Builds())
}

func TestController_NodeRequestedFailure(t *testing.T) {
	env := newFakeEnv("p1")
	env.launchErr = &slave.ProvisioningError{Role: container.RoleRemoting, Image: "agent:latest", Err: errors.New("exit status 2")}
	c := controllerWith(env)
	defer c.Close()

	var log bytes.Buffer
	h, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, &log)
	assert.Nil(t, h)
	var provErr *slave.ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, log.String(), "could not provision build environment: ")
	assert.Contains(t, log.String(), "agent:latest")
}

func TestController_FactoryFailure(t *testing.T) {
	c := NewController(func(JobIdentity, *events.Bus) (Environment, error) {
		return nil, errors.New("unknown job app")
	}, WithLogger(quietLogger()))
	defer c.Close()

	var log bytes.Buffer
	_, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, &log)
	require.Error(t, err)
	assert.Contains(t, log.String(), "could not provision build environment: unknown job app")
}

func TestController_HandleIsConsumedOnce(t *testing.T) {
	c := controllerWith(newFakeEnv("p1"))
	defer c.Close()

	h, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)

	_, err = c.BuildEnvironmentSetup(h, BuildIdentity{Job: "other", Number: 1})
	assert.Error(t, err)
	assert.False(t, h.Consumed())

	_, err = c.BuildEnvironmentSetup(h, BuildIdentity{Job: "app", Number: 1})
	require.NoError(t, err)

	_, err = c.BuildEnvironmentSetup(h, BuildIdentity{Job: "app", Number: 2})
	assert.ErrorIs(t, err, ErrHandleConsumed)
	assert.ErrorIs(t, c.AbandonHandle(context.Background(), h, nil), ErrHandleConsumed)
}

func TestController_AttachFailureKeepsHandle(t *testing.T) {
	env := newFakeEnv("p1")
	env.attachErr = slave.ErrTerminated
	c := controllerWith(env)
	defer c.Close()

	h, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)

	_, err = c.BuildEnvironmentSetup(h, BuildIdentity{Job: "app", Number: 1})
	assert.ErrorIs(t, err, slave.ErrTerminated)
	assert.False(t, h.Consumed())
	require.NoError(t, c.AbandonHandle(context.Background(), h, nil))
	assert.Contains(t, env.callLog(), "clean")
}

func TestController_UnknownBuild(t *testing.T) {
	c := controllerWith()
	defer c.Close()
	build := BuildIdentity{Job: "app", Number: 9}

	assert.ErrorIs(t, c.ScmCheckoutCompleted(build), ErrUnknownBuild)
	_, err := c.Launcher(build)
	assert.ErrorIs(t, err, ErrUnknownBuild)
	assert.ErrorIs(t, c.NodeTerminate(context.Background(), build, nil), ErrUnknownBuild)
}

func TestController_NodeTerminateReportsCleanupFailure(t *testing.T) {
	env := newFakeEnv("p1")
	env.cleanErr = &slave.CleanupError{Failures: []slave.CleanupFailure{{Container: "app-scm", Err: errors.New("busy")}}}
	c := controllerWith(env)
	defer c.Close()
	build := BuildIdentity{Job: "app", Number: 1}

	h, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)
	_, err = c.BuildEnvironmentSetup(h, build)
	require.NoError(t, err)

	var log bytes.Buffer
	err = c.NodeTerminate(context.Background(), build, &log)
	var cleanErr *slave.CleanupError
	require.ErrorAs(t, err, &cleanErr)
	assert.Contains(t, log.String(), "WARNING: cleanup failed")
	assert.Empty(t, c.Builds(), "build is forgotten even when cleanup failed")
}

func TestController_DuplicateBuild(t *testing.T) {
	c := controllerWith(newFakeEnv("p1"), newFakeEnv("p2"))
	defer c.Close()
	build := BuildIdentity{Job: "app", Number: 1}

	h1, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)
	h2, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)

	_, err = c.BuildEnvironmentSetup(h1, build)
	require.NoError(t, err)
	_, err = c.BuildEnvironmentSetup(h2, build)
	assert.Error(t, err)
	assert.False(t, h2.Consumed())
}

func TestController_ConcurrentSetupOfSameBuild(t *testing.T) {
	first, second := newFakeEnv("p1"), newFakeEnv("p2")
	first.attachGate = make(chan struct{})
	c := controllerWith(first, second)
	defer c.Close()
	ctx := context.Background()
	build := BuildIdentity{Job: "app", Number: 1}

	h1, err := c.NodeRequested(ctx, JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)
	h2, err := c.NodeRequested(ctx, JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.BuildEnvironmentSetup(h1, build)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return len(first.callLog()) == 2
	}, time.Second, time.Millisecond, "first setup must be attaching")

	_, err = c.BuildEnvironmentSetup(h2, build)
	require.Error(t, err)
	assert.False(t, h2.Consumed())
	assert.Equal(t, []string{"remoting"}, second.callLog(), "second environment must not be attached")

	close(first.attachGate)
	require.NoError(t, <-done)
	assert.Equal(t, []BuildIdentity{build}, c.Builds())

	require.NoError(t, c.Shutdown(ctx, nil))
	assert.Contains(t, first.callLog(), "clean")
	assert.Contains(t, second.callLog(), "clean")
}

func TestController_Shutdown(t *testing.T) {
	started, idle := newFakeEnv("p1"), newFakeEnv("p2")
	c := controllerWith(started, idle)
	defer c.Close()
	ctx := context.Background()

	h1, err := c.NodeRequested(ctx, JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)
	_, err = c.BuildEnvironmentSetup(h1, BuildIdentity{Job: "app", Number: 1})
	require.NoError(t, err)
	_, err = c.NodeRequested(ctx, JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Shutdown(ctx, nil))
	assert.Contains(t, started.callLog(), "clean")
	assert.Contains(t, idle.callLog(), "clean")
	assert.Empty(t, c.Builds())
}

func TestController_OnEvent(t *testing.T) {
	var got []events.EventType
	c := NewController(func(job JobIdentity, bus *events.Bus) (Environment, error) {
		bus.Emit(events.NewEvent(events.ProvisioningStarted, "p1").WithJob(job.Name))
		return newFakeEnv("p1"), nil
	}, WithLogger(quietLogger()))
	c.OnEvent(func(e events.Event) { got = append(got, e.Type) })

	_, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Equal(t, []events.EventType{events.ProvisioningStarted}, got)
}

func TestController_ScmLaunchFailureOnDemand(t *testing.T) {
	env := newFakeEnv("p1")
	env.scmErr = errors.New("could not provision scm container")
	c := controllerWith(env)
	defer c.Close()
	build := BuildIdentity{Job: "app", Number: 1}

	h, err := c.NodeRequested(context.Background(), JobIdentity{Name: "app"}, nil)
	require.NoError(t, err)
	_, err = c.BuildEnvironmentSetup(h, build)
	require.NoError(t, err)
	launcher, err := c.Launcher(build)
	require.NoError(t, err)

	code, err := launcher.LaunchBuildProcess(context.Background(), slave.ProcStarter{Cmd: []string{"git", "clone"}}, nil)
	assert.Error(t, err)
	assert.Equal(t, -1, code)
	assert.NotContains(t, env.callLog(), "exec git clone in AwaitingBuildStart")
}
