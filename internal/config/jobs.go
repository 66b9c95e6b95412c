package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/RevCBH/dockerslaves/internal/image"
	"github.com/RevCBH/dockerslaves/internal/slave"
)

var invalidRepoChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

func reference(ref, policy string) (image.Definition, error) {
	p, err := image.ParsePullPolicy(policy)
	if err != nil {
		return nil, err
	}
	return image.NewReference(ref, p)
}

// Definition returns the image definition of the main build container.
func (b BuildImageConfig) Definition(job string) (image.Definition, error) {
	if b.Dockerfile != "" {
		return dockerfileDefinition(job, b)
	}
	policy := b.PullPolicy
	if b.ForcePull {
		policy = string(image.PullAlways)
	}
	return reference(b.Image, policy)
}

func dockerfileDefinition(job string, b BuildImageConfig) (image.Definition, error) {
	tag := b.Tag
	if tag == "" {
		tag = DefaultBuildTag(job)
	}
	dir := b.Context
	if dir == "" {
		dir = "."
	}
	return image.NewDockerfile(dir, b.Dockerfile, tag)
}

// DefaultBuildTag is the tag given to images built for a job without one.
func DefaultBuildTag(job string) string {
	repo := strings.Trim(invalidRepoChars.ReplaceAllString(strings.ToLower(job), "-"), "-._")
	if repo == "" {
		repo = "job"
	}
	return fmt.Sprintf("%s/%s:%s", DefaultNamePrefix, repo, DefaultBuildTagVersion)
}

// ProvisionerOptions translates the definition of the named job into the
// options of its provisioner. Events and Logger are left to the caller.
func (c *Config) ProvisionerOptions(name string) (slave.Options, error) {
	job, ok := c.Jobs[name]
	if !ok {
		return slave.Options{}, fmt.Errorf("unknown job %q", name)
	}

	remoting, err := reference(c.Remoting.Image, c.Remoting.PullPolicy)
	if err != nil {
		return slave.Options{}, fmt.Errorf("remoting image: %w", err)
	}
	scm, err := reference(c.Scm.Image, c.Scm.PullPolicy)
	if err != nil {
		return slave.Options{}, fmt.Errorf("scm image: %w", err)
	}
	main, err := job.Build.Definition(name)
	if err != nil {
		return slave.Options{}, fmt.Errorf("build image: %w", err)
	}

	side := make([]slave.SideContainer, 0, len(job.SideContainers))
	for _, sc := range job.SideContainers {
		def, err := reference(sc.Image, sc.PullPolicy)
		if err != nil {
			return slave.Options{}, fmt.Errorf("side container %s: %w", sc.Name, err)
		}
		side = append(side, slave.SideContainer{Name: sc.Name, Definition: def})
	}

	stop, err := c.StopTimeoutDuration()
	if err != nil {
		return slave.Options{}, fmt.Errorf("stop_timeout: %w", err)
	}
	cleanup, err := c.CleanupTimeoutDuration()
	if err != nil {
		return slave.Options{}, fmt.Errorf("cleanup_timeout: %w", err)
	}

	env := make(map[string]string, len(job.Env))
	for k, v := range job.Env {
		env[k] = v
	}

	return slave.Options{
		Job:        name,
		NamePrefix: c.NamePrefix,
		Workspace:  c.Workspace,
		Remoting: slave.RemotingOptions{
			Definition: remoting,
			Command:    append([]string(nil), c.Remoting.Command...),
		},
		Scm: scm,
		Build: slave.ContainerSet{
			Main: main,
			Side: side,
		},
		Env:            env,
		StopTimeout:    stop,
		CleanupTimeout: cleanup,
	}, nil
}
