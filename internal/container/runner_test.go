package container

import (
	"bytes"
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestOSRunner_ExitCode(t *testing.T) {
	requireShell(t)

	var stdout bytes.Buffer
	code, err := OSRunner().Run(context.Background(), "sh", Invocation{
		Args:   []string{"-c", "echo out; exit 3"},
		Stdout: &stdout,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "out\n", stdout.String())
}

func TestOSRunner_KilledBySignalIsError(t *testing.T) {
	requireShell(t)

	code, err := OSRunner().Run(context.Background(), "sh", Invocation{
		Args: []string{"-c", "kill -9 $$"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signal")
	assert.Equal(t, -1, code)
}

func TestOSRunner_MissingBinary(t *testing.T) {
	code, err := OSRunner().Run(context.Background(), "dockerslaves-no-such-runtime", Invocation{})
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestCLIManager_Exec_ClientKilledIsExecError(t *testing.T) {
	requireShell(t)

	runner := runnerFunc(func(ctx context.Context, bin string, inv Invocation) (int, error) {
		return OSRunner().Run(ctx, "sh", Invocation{Args: []string{"-c", "kill -KILL $$"}})
	})
	mgr := &runningManager{Manager: NewCLIManagerWithRunner("docker", runner)}
	c := NewContainer(mgr, "c1", "job-build", RoleBuild, "maven")

	code, err := c.Exec(context.Background(), ExecConfig{Cmd: []string{"make"}})
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, -1, code)
}

// runningManager reports every container as running.
type runningManager struct {
	Manager
}

func (runningManager) IsRunning(ctx context.Context, id ContainerID) (bool, error) {
	return true, nil
}
