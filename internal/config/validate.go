package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/RevCBH/dockerslaves/internal/image"
)

// ValidationError contains details about what failed validation.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// validateConfig checks all config values for validity.
// Returns nil if valid, or joined errors for all validation failures.
func validateConfig(cfg *Config) error {
	var errs []error
	add := func(field string, value any, msg string) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Message: msg})
	}

	switch cfg.Runtime {
	case "auto", "docker", "podman", "api":
	default:
		add("runtime", cfg.Runtime, "must be one of: auto, docker, podman, api")
	}

	if cfg.NamePrefix == "" {
		add("name_prefix", cfg.NamePrefix, "must not be empty")
	}

	if cfg.Workspace == "" || cfg.Workspace[0] != '/' {
		add("workspace", cfg.Workspace, "must be an absolute container path")
	}

	for field, value := range map[string]string{
		"stop_timeout":    cfg.StopTimeout,
		"cleanup_timeout": cfg.CleanupTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			add(field, value, fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			add(field, value, "must be positive")
		}
	}

	if cfg.StateDB == "" {
		add("state_db", cfg.StateDB, "must not be empty")
	}

	// LogLevel must be one of: debug, info, warn, error (case-sensitive)
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		add("log_level", cfg.LogLevel, "must be one of: debug, info, warn, error")
	}

	validateImage(add, "remoting", cfg.Remoting.Image, cfg.Remoting.PullPolicy)
	if len(cfg.Remoting.Command) == 0 {
		add("remoting.command", cfg.Remoting.Command, "must not be empty")
	}
	validateImage(add, "scm", cfg.Scm.Image, cfg.Scm.PullPolicy)

	for _, name := range cfg.JobNames() {
		validateJob(add, name, cfg.Jobs[name])
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateImage(add func(string, any, string), field, ref, policy string) {
	if ref == "" {
		add(field+".image", ref, "must not be empty")
	} else if _, err := image.NewReference(ref, image.PullIfMissing); err != nil {
		add(field+".image", ref, err.Error())
	}
	if _, err := image.ParsePullPolicy(policy); err != nil {
		add(field+".pull_policy", policy, err.Error())
	}
}

func validateJob(add func(string, any, string), name string, job JobConfig) {
	prefix := "jobs." + name

	build := job.Build
	switch {
	case build.Image != "" && build.Dockerfile != "":
		add(prefix+".build", build.Image, "image and dockerfile are mutually exclusive")
	case build.Image != "":
		validateImage(add, prefix+".build", build.Image, build.PullPolicy)
	case build.Dockerfile != "":
		if _, err := dockerfileDefinition(name, build); err != nil {
			add(prefix+".build.dockerfile", build.Dockerfile, err.Error())
		}
	default:
		add(prefix+".build", "", "one of image or dockerfile is required")
	}

	seen := make(map[string]bool)
	for i, side := range job.SideContainers {
		field := fmt.Sprintf("%s.side_containers[%d]", prefix, i)
		if side.Name == "" {
			add(field+".name", side.Name, "must not be empty")
		} else if seen[side.Name] {
			add(field+".name", side.Name, "must be unique within the job")
		}
		seen[side.Name] = true
		validateImage(add, field, side.Image, side.PullPolicy)
	}

	if job.Revision != "" && job.Repository == "" {
		add(prefix+".revision", job.Revision, "requires repository")
	}

	for i, step := range job.Checkout {
		if len(step) == 0 || step[0] == "" {
			add(fmt.Sprintf("%s.checkout[%d]", prefix, i), step, "must not be empty")
		}
	}
	for i, step := range job.Steps {
		if len(step) == 0 || step[0] == "" {
			add(fmt.Sprintf("%s.steps[%d]", prefix, i), step, "must not be empty")
		}
	}
}
