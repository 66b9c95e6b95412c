package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.StateDB = ":memory:"
	cfg.Jobs = map[string]JobConfig{
		"app": {Build: BuildImageConfig{Image: "golang:1.24"}},
	}
	return cfg
}

func fieldErrors(err error) map[string]bool {
	fields := make(map[string]bool)
	if err == nil {
		return fields
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			var ve *ValidationError
			if errors.As(e, &ve) {
				fields[ve.Field] = true
			}
		}
	}
	return fields
}

func TestValidateConfig_Valid(t *testing.T) {
	if err := validateConfig(validConfig()); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidateConfig_Runtime(t *testing.T) {
	cfg := validConfig()
	cfg.Runtime = "containerd"

	fields := fieldErrors(validateConfig(cfg))
	if !fields["runtime"] {
		t.Errorf("expected runtime error, got %v", fields)
	}
}

func TestValidateConfig_Timeouts(t *testing.T) {
	cfg := validConfig()
	cfg.StopTimeout = "soon"
	cfg.CleanupTimeout = "0s"

	fields := fieldErrors(validateConfig(cfg))
	if !fields["stop_timeout"] {
		t.Error("expected stop_timeout error")
	}
	if !fields["cleanup_timeout"] {
		t.Error("expected cleanup_timeout error")
	}
}

func TestValidateConfig_WorkspaceMustBeAbsolute(t *testing.T) {
	cfg := validConfig()
	cfg.Workspace = "relative/ws"

	if !fieldErrors(validateConfig(cfg))["workspace"] {
		t.Error("expected workspace error")
	}
}

func TestValidateConfig_LogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "DEBUG"

	if !fieldErrors(validateConfig(cfg))["log_level"] {
		t.Error("expected log_level error (case-sensitive)")
	}
}

func TestValidateConfig_Images(t *testing.T) {
	cfg := validConfig()
	cfg.Remoting.Image = ""
	cfg.Remoting.Command = nil
	cfg.Scm.PullPolicy = "sometimes"

	fields := fieldErrors(validateConfig(cfg))
	for _, f := range []string{"remoting.image", "remoting.command", "scm.pull_policy"} {
		if !fields[f] {
			t.Errorf("expected %s error, got %v", f, fields)
		}
	}
}

func TestValidateConfig_JobBuildImage(t *testing.T) {
	cfg := validConfig()
	cfg.Jobs["none"] = JobConfig{}
	cfg.Jobs["both"] = JobConfig{Build: BuildImageConfig{Image: "a", Dockerfile: "Dockerfile"}}
	cfg.Jobs["bad"] = JobConfig{Build: BuildImageConfig{Image: "UPPER:case:bad"}}

	fields := fieldErrors(validateConfig(cfg))
	for _, f := range []string{"jobs.none.build", "jobs.both.build", "jobs.bad.build.image"} {
		if !fields[f] {
			t.Errorf("expected %s error, got %v", f, fields)
		}
	}
}

func TestValidateConfig_JobDockerfileMustBeRelative(t *testing.T) {
	cfg := validConfig()
	cfg.Jobs["app"] = JobConfig{Build: BuildImageConfig{Dockerfile: "/etc/Dockerfile", Context: "/src"}}

	if !fieldErrors(validateConfig(cfg))["jobs.app.build.dockerfile"] {
		t.Error("expected dockerfile error")
	}
}

func TestValidateConfig_SideContainers(t *testing.T) {
	cfg := validConfig()
	cfg.Jobs["app"] = JobConfig{
		Build: BuildImageConfig{Image: "golang:1.24"},
		SideContainers: []SideContainerConfig{
			{Name: "db", Image: "postgres:16"},
			{Name: "db", Image: "postgres:15"},
			{Image: "redis:7"},
		},
	}

	fields := fieldErrors(validateConfig(cfg))
	if !fields["jobs.app.side_containers[1].name"] {
		t.Error("expected duplicate name error")
	}
	if !fields["jobs.app.side_containers[2].name"] {
		t.Error("expected empty name error")
	}
}

func TestValidateConfig_Steps(t *testing.T) {
	cfg := validConfig()
	cfg.Jobs["app"] = JobConfig{
		Build:    BuildImageConfig{Image: "golang:1.24"},
		Revision: "main",
		Checkout: [][]string{{}},
		Steps:    [][]string{{"make"}, {""}},
	}

	fields := fieldErrors(validateConfig(cfg))
	for _, f := range []string{"jobs.app.revision", "jobs.app.checkout[0]", "jobs.app.steps[1]"} {
		if !fields[f] {
			t.Errorf("expected %s error, got %v", f, fields)
		}
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Field: "runtime", Value: "x", Message: "bad"}
	if !strings.Contains(err.Error(), "config.runtime: bad (got: x)") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
