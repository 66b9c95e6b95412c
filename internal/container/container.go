package container

import (
	"io"
	"sort"
)

// ContainerID is a unique identifier for a container.
// This is the full container ID returned by `docker create`, not the short form.
type ContainerID string

// Role identifies what a container is used for within one build.
type Role string

const (
	// RoleRemoting hosts the agent that keeps the control channel to the host
	RoleRemoting Role = "remoting"

	// RoleScm hosts source checkout tooling
	RoleScm Role = "scm"

	// RoleBuild hosts build and test tool invocations
	RoleBuild Role = "build"

	// RoleSide is a supporting service container of the build container set
	RoleSide Role = "side"
)

// Label keys set on every container created for a build.
const (
	LabelProvisioning = "dockerslaves.provisioning"
	LabelJob          = "dockerslaves.job"
	LabelRole         = "dockerslaves.role"
)

// ContainerConfig specifies container creation parameters.
type ContainerConfig struct {
	// Image is the resolved image reference (e.g., "golang:1.22")
	Image string

	// Name is the container name (e.g., "dockerslaves-app-01J...-build")
	Name string

	// Env contains environment variables to set in the container
	Env map[string]string

	// Entrypoint overrides the image entrypoint when non-empty
	Entrypoint []string

	// Cmd is the command and arguments to run
	Cmd []string

	// WorkDir is the working directory inside the container
	WorkDir string

	// Interactive keeps stdin open even when nothing is attached
	Interactive bool

	// Labels are attached to the container for later discovery
	Labels map[string]string

	// Volumes are anonymous volumes created with the container
	Volumes []string

	// VolumesFrom mounts all volumes of the listed containers
	VolumesFrom []ContainerID

	// Network is the network mode, e.g. "container:<id>" to share a namespace
	Network string
}

// ExecConfig describes a process to run inside an existing container.
type ExecConfig struct {
	// Cmd is the command vector
	Cmd []string

	// Env is added to the container environment for this process only
	Env map[string]string

	// WorkDir is the working directory of the process
	WorkDir string

	// Stdin is forwarded to the process when non-nil
	Stdin io.Reader

	// Stdout and Stderr receive process output as it is produced
	Stdout io.Writer
	Stderr io.Writer
}

// BuildConfig describes an image built from a Dockerfile.
type BuildConfig struct {
	// ContextDir is the build context directory on the host
	ContextDir string

	// Dockerfile is the Dockerfile path relative to ContextDir
	Dockerfile string

	// Tag is the reference the built image is tagged with
	Tag string
}

// sortedEnv renders an environment map as KEY=value pairs in key order.
func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}
