package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory
const FileName = ".dockerslaves.yaml"

// Config holds all configuration for dockerslaves.
// It is immutable after creation via LoadConfig().
type Config struct {
	// Runtime selects the container backend: auto, docker, podman or api
	Runtime string `yaml:"runtime"`

	// NamePrefix starts every container name
	NamePrefix string `yaml:"name_prefix"`

	// Workspace is the working directory shared by the containers of a build
	Workspace string `yaml:"workspace"`

	// StopTimeout is the grace period given to a container on stop
	StopTimeout string `yaml:"stop_timeout"`

	// CleanupTimeout bounds the stop and removal of a single container
	CleanupTimeout string `yaml:"cleanup_timeout"`

	// StateDB is the path of the SQLite state ledger
	StateDB string `yaml:"state_db"`

	// WebAddr is the listen address of the status API
	WebAddr string `yaml:"web_addr"`

	// LogLevel controls log verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// Remoting configures the container hosting the agent
	Remoting RemotingConfig `yaml:"remoting"`

	// Scm configures the container running checkout steps
	Scm ImageConfig `yaml:"scm"`

	// Jobs maps job names to their build definitions
	Jobs map[string]JobConfig `yaml:"jobs"`
}

// ImageConfig names a registry image and how to obtain it
type ImageConfig struct {
	Image      string `yaml:"image"`
	PullPolicy string `yaml:"pull_policy"`
}

// RemotingConfig configures the remoting container.
type RemotingConfig struct {
	Image      string `yaml:"image"`
	PullPolicy string `yaml:"pull_policy"`

	// Command starts the agent; it speaks the control protocol on stdio
	Command []string `yaml:"command"`
}

// BuildImageConfig is the main container of a job's build container set.
// Exactly one of Image and Dockerfile is set.
type BuildImageConfig struct {
	Image      string `yaml:"image"`
	PullPolicy string `yaml:"pull_policy"`

	// ForcePull is a shorthand for pull_policy: always
	ForcePull bool `yaml:"force_pull"`

	// Dockerfile is relative to Context
	Dockerfile string `yaml:"dockerfile"`

	// Context is the build context; relative paths are resolved from the
	// directory holding the config file
	Context string `yaml:"context"`

	// Tag names the built image; derived from the job name when empty
	Tag string `yaml:"tag"`
}

// SideContainerConfig is a supporting service of a build.
type SideContainerConfig struct {
	Name       string `yaml:"name"`
	Image      string `yaml:"image"`
	PullPolicy string `yaml:"pull_policy"`
}

// JobConfig defines a job: its containers, environment and steps.
type JobConfig struct {
	Build          BuildImageConfig      `yaml:"build"`
	SideContainers []SideContainerConfig `yaml:"side_containers"`

	// Env is set in every container of the build
	Env map[string]string `yaml:"env"`

	// Repository is checked out by the checkout steps; used to pin Revision
	Repository string `yaml:"repository"`

	// Revision is resolved to a commit and exposed as SCM_REVISION
	Revision string `yaml:"revision"`

	// Checkout steps run in the SCM container
	Checkout [][]string `yaml:"checkout"`

	// Steps run in the build container
	Steps [][]string `yaml:"steps"`
}

// StopTimeoutDuration parses the stop timeout as a Duration.
func (c *Config) StopTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.StopTimeout)
}

// CleanupTimeoutDuration parses the cleanup timeout as a Duration.
func (c *Config) CleanupTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.CleanupTimeout)
}

// Job returns the definition of the named job.
func (c *Config) Job(name string) (JobConfig, bool) {
	job, ok := c.Jobs[name]
	return job, ok
}

// JobNames returns the configured job names in sorted order.
func (c *Config) JobNames() []string {
	names := make([]string, 0, len(c.Jobs))
	for name := range c.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadConfig loads configuration from FileName in dir.
// A missing file is not an error: defaults are used.
func LoadConfig(dir string) (*Config, error) {
	return load(filepath.Join(dir, FileName), true)
}

// LoadConfigFile loads configuration from an explicit path, which must exist.
func LoadConfigFile(path string) (*Config, error) {
	return load(path, false)
}

// load applies defaults, then file values, then environment overrides,
// then resolves relative paths and validates.
func load(path string, optional bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case os.IsNotExist(err) && optional:
		// defaults only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	resolvePaths(cfg, baseDir)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func resolvePaths(cfg *Config, baseDir string) {
	for name, job := range cfg.Jobs {
		if job.Build.Dockerfile == "" {
			continue
		}
		if job.Build.Context == "" {
			job.Build.Context = "."
		}
		if !filepath.IsAbs(job.Build.Context) {
			job.Build.Context = filepath.Join(baseDir, job.Build.Context)
		}
		cfg.Jobs[name] = job
	}
}
