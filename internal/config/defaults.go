package config

import (
	"os"
	"path/filepath"
)

const (
	DefaultRuntime            = "auto"
	DefaultNamePrefix         = "dockerslaves"
	DefaultWorkspace          = "/home/jenkins"
	DefaultStopTimeout        = "10s"
	DefaultCleanupTimeout     = "30s"
	DefaultWebAddr            = "127.0.0.1:8080"
	DefaultLogLevel           = "info"
	DefaultRemotingImage      = "jenkins/agent:latest"
	DefaultScmImage           = "alpine/git:latest"
	DefaultPullPolicy         = "if-missing"
	DefaultStateDir           = ".dockerslaves"
	DefaultStateDBName        = "state.db"
	DefaultBuildTagVersion    = "local"
)

// DefaultRemotingCommand runs the agent on stdio
var DefaultRemotingCommand = []string{"java", "-jar", "/usr/share/jenkins/agent.jar"}

// DefaultConfig returns a Config with all default values applied.
func DefaultConfig() *Config {
	return &Config{
		Runtime:        DefaultRuntime,
		NamePrefix:     DefaultNamePrefix,
		Workspace:      DefaultWorkspace,
		StopTimeout:    DefaultStopTimeout,
		CleanupTimeout: DefaultCleanupTimeout,
		StateDB:        DefaultStateDBPath(),
		WebAddr:        DefaultWebAddr,
		LogLevel:       DefaultLogLevel,
		Remoting: RemotingConfig{
			Image:      DefaultRemotingImage,
			PullPolicy: DefaultPullPolicy,
			Command:    append([]string(nil), DefaultRemotingCommand...),
		},
		Scm: ImageConfig{
			Image:      DefaultScmImage,
			PullPolicy: DefaultPullPolicy,
		},
	}
}

// DefaultStateDBPath returns ~/.dockerslaves/state.db, or a path relative
// to the working directory when the home directory is unknown.
func DefaultStateDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(DefaultStateDir, DefaultStateDBName)
	}
	return filepath.Join(homeDir, DefaultStateDir, DefaultStateDBName)
}

// EnsureStateDir creates the directory holding the state database.
func EnsureStateDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(dbPath), 0755)
}
