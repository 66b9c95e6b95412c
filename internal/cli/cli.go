package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/RevCBH/dockerslaves/internal/config"
)

// App represents the CLI application with all wired dependencies
type App struct {
	// Root command
	rootCmd *cobra.Command

	// Global flags
	verbose    bool
	configPath string
	logFormat  string

	// Diagnostics logger, set up once the config is loaded
	logger *slog.Logger

	// Version information
	version string
	commit  string
	date    string
}

// ExitError carries the exit status of a command whose builds failed
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status for err
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

// New creates a new CLI application
func New() *App {
	app := &App{
		logger: slog.Default(),
	}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the version string for the version command
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

// setupRootCmd configures the root Cobra command
func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "dockerslaves",
		Short: "Ephemeral container build environments",
		Long: `dockerslaves provisions a fresh set of containers for every build:
a remoting container holding the agent channel, an SCM container for the
checkout and the job's build container set. Everything is removed when
the build ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add persistent flags
	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Verbose output (debug logging and event lines)")
	a.rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"Config file (default: ./"+config.FileName+")")
	a.rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text",
		"Diagnostics log format: text or json")

	a.rootCmd.AddCommand(
		NewRunCmd(a),
		NewResolveCmd(a),
		NewStatusCmd(a),
		NewWatchCmd(a),
		NewCleanupCmd(a),
		NewServeCmd(a),
		NewVersionCmd(a),
	)
}

// loadConfig reads the config file and sets up diagnostics logging from it
func (a *App) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadConfigFile(a.configPath)
	} else {
		var wd string
		wd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg, err = config.LoadConfig(wd)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	a.logger = newLogger(cmd.ErrOrStderr(), level, a.logFormat)
	slog.SetDefault(a.logger)
	return cfg, nil
}
