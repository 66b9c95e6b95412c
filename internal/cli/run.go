package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/RevCBH/dockerslaves/internal/cli/tui"
	"github.com/RevCBH/dockerslaves/internal/config"
	"github.com/RevCBH/dockerslaves/internal/events"
	"github.com/RevCBH/dockerslaves/internal/lifecycle"
	"github.com/RevCBH/dockerslaves/internal/scm"
	"github.com/RevCBH/dockerslaves/internal/slave"
	"github.com/RevCBH/dockerslaves/internal/web"
)

// RunOptions holds flags for the run command
type RunOptions struct {
	Jobs  []string // Jobs to build (default: all configured jobs)
	NoTUI bool     // Disable TUI even when stdout is a TTY
	JSON  bool     // Emit events as JSON lines on stdout
	Web   string   // Serve the status API on this address while running
}

// buildResult is the outcome of one build
type buildResult struct {
	Job      string
	Build    lifecycle.BuildIdentity
	ExitCode int
	Err      error
	Duration time.Duration
}

// Failed reports whether the build failed
func (r buildResult) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// NewRunCmd creates the run command
func NewRunCmd(app *App) *cobra.Command {
	opts := RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [job...]",
		Short: "Build jobs in fresh container environments",
		Long: `Run drives each job through the node lifecycle: a node is requested and
its remoting container started, the build attaches, checkout steps run in
the SCM container, build steps run in the job's build container set, and
every container is removed at the end.

Jobs run concurrently. The exit status is the one of the first failed build.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Jobs = args
			return app.RunBuilds(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoTUI, "no-tui", false, "Disable interactive TUI")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Emit events as JSON lines on stdout")
	cmd.Flags().StringVar(&opts.Web, "web", "", "Serve the status API on this address while running")

	return cmd
}

// selectJobs returns the jobs to build, checking they are configured
func selectJobs(cfg *config.Config, requested []string) ([]string, error) {
	if len(requested) == 0 {
		jobs := cfg.JobNames()
		if len(jobs) == 0 {
			return nil, fmt.Errorf("no jobs configured in %s", config.FileName)
		}
		return jobs, nil
	}
	seen := make(map[string]bool, len(requested))
	jobs := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := cfg.Job(name); !ok {
			return nil, fmt.Errorf("unknown job %q", name)
		}
		if !seen[name] {
			seen[name] = true
			jobs = append(jobs, name)
		}
	}
	return jobs, nil
}

// RunBuilds builds the selected jobs concurrently
func (a *App) RunBuilds(ctx context.Context, cmd *cobra.Command, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	jobs, err := selectJobs(cfg, opts.Jobs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stderr := cmd.ErrOrStderr()
	handler := NewSignalHandler(cancel, stderr)
	handler.Start()
	defer handler.Stop()

	host, err := WireHost(cfg, a.logger)
	if err != nil {
		return err
	}
	defer host.Close()
	handler.TrackBuilds(func() []string {
		builds := host.Controller.Builds()
		names := make([]string, 0, len(builds))
		for _, b := range builds {
			names = append(names, b.String())
		}
		return names
	})

	if opts.Web != "" {
		srv, err := web.New(web.Config{Addr: opts.Web, Store: host.Store})
		if err != nil {
			return err
		}
		host.Events.Subscribe(srv.Handler())
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Stop(stopCtx)
		}()
	}

	out := cmd.OutOrStdout()
	summary := out
	var buildLog func(label string) io.Writer

	useTUI := !opts.NoTUI && !opts.JSON && term.IsTerminal(int(os.Stdout.Fd()))
	if useTUI {
		model := tui.NewModel("dockerslaves run")
		program := tea.NewProgram(model, tea.WithAltScreen())
		bridge := tui.NewBridge(program)
		host.Events.Subscribe(bridge.Handler())
		logs := tui.NewLogWriter(program)
		buildLog = func(label string) io.Writer { return logs.WithPrefix(label) }

		tuiDone := make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				a.logger.Error("TUI failed", "error", err)
			}
			// Quitting the TUI aborts the builds
			if model.Quitting {
				cancel()
			}
		}()
		defer func() {
			bridge.SendDone()
			<-tuiDone
		}()
	} else {
		logOut := out
		if events.IsJSONMode(opts.JSON) {
			host.Events.Subscribe(events.JSONEmitterHandler(events.NewJSONEmitter(out)))
			logOut = stderr
			summary = stderr
		} else if a.verbose {
			host.Events.Subscribe(events.LogHandler(events.LogConfig{Writer: stderr}))
		}
		buildLog = newLinePrefixer(logOut, len(jobs) > 1).Writer
	}

	results := runAll(ctx, host, jobs, buildLog)

	// Anything a build left behind (it should be nothing)
	if err := host.Controller.Shutdown(context.WithoutCancel(ctx), io.Discard); err != nil {
		a.logger.Warn("shutdown cleanup incomplete", "error", err)
	}

	if !useTUI {
		printSummary(summary, results)
	}
	return resultError(results)
}

// runAll runs one build per job concurrently. Builds are independent: a
// failing build does not stop the others.
func runAll(ctx context.Context, host *Host, jobs []string, buildLog func(string) io.Writer) []buildResult {
	results := make([]buildResult, len(jobs))
	var g errgroup.Group
	for i, name := range jobs {
		g.Go(func() error {
			results[i] = runBuild(ctx, host, name, buildLog(name))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runBuild requests a node for job and takes one build through it
func runBuild(ctx context.Context, host *Host, name string, log io.Writer) (res buildResult) {
	start := time.Now()
	res.Job = name
	defer func() {
		res.Duration = time.Since(start)
		flush(log)
	}()

	job, ok := host.Config.Job(name)
	if !ok {
		res.Err = fmt.Errorf("unknown job %q", name)
		return res
	}
	env, err := buildEnv(ctx, job)
	if err != nil {
		fmt.Fprintf(log, "could not resolve revision: %v\n", err)
		res.Err = err
		return res
	}

	ctrl := host.Controller
	h, err := ctrl.NodeRequested(ctx, lifecycle.JobIdentity{Name: name}, log)
	if err != nil {
		res.Err = err
		return res
	}

	// Cleanup runs even when the build was interrupted
	cleanupCtx := context.WithoutCancel(ctx)

	number, err := host.Store.NextBuildNumber(name)
	if err != nil {
		_ = ctrl.AbandonHandle(cleanupCtx, h, log)
		res.Err = err
		return res
	}
	res.Build = lifecycle.BuildIdentity{Job: name, Number: number}

	if _, err := ctrl.BuildEnvironmentSetup(h, res.Build); err != nil {
		_ = ctrl.AbandonHandle(cleanupCtx, h, log)
		res.Err = err
		return res
	}
	defer func() {
		// Removal failures are reported but never fail the build
		_ = ctrl.NodeTerminate(cleanupCtx, res.Build, log)
	}()

	launcher, err := ctrl.Launcher(res.Build)
	if err != nil {
		res.Err = err
		return res
	}

	if res.ExitCode, res.Err = runSteps(ctx, launcher, "checkout", job.Checkout, env, log); res.Failed() {
		return res
	}
	if err := ctrl.ScmCheckoutCompleted(res.Build); err != nil {
		res.Err = err
		return res
	}
	res.ExitCode, res.Err = runSteps(ctx, launcher, "build", job.Steps, env, log)
	return res
}

// runSteps launches steps in order and stops at the first that fails
func runSteps(ctx context.Context, launcher lifecycle.ProcessLauncher, kind string, steps [][]string, env map[string]string, log io.Writer) (int, error) {
	for _, step := range steps {
		code, err := launcher.LaunchBuildProcess(ctx, slave.ProcStarter{Cmd: step, Env: env}, log)
		if err != nil {
			return code, err
		}
		if code != 0 {
			return code, fmt.Errorf("%s step %q exited with status %d", kind, slave.CommandLine(step), code)
		}
	}
	return 0, nil
}

// buildEnv returns the process environment of a build's steps. The
// revision is resolved once so checkout and build see the same commit.
func buildEnv(ctx context.Context, job config.JobConfig) (map[string]string, error) {
	env := make(map[string]string)
	if job.Repository == "" {
		return env, nil
	}
	rev, err := scm.ResolveRevision(ctx, job.Repository, job.Revision)
	if err != nil {
		return nil, err
	}
	env["SCM_REPOSITORY"] = job.Repository
	env["SCM_REVISION"] = rev
	return env, nil
}

// printSummary writes one line per build
func printSummary(w io.Writer, results []buildResult) {
	fmt.Fprintf(w, "\nBuilds:\n")
	for _, r := range results {
		label := r.Job
		if r.Build.Number > 0 {
			label = r.Build.String()
		}
		status := "ok"
		switch {
		case r.Err != nil:
			status = "failed: " + r.Err.Error()
		case r.ExitCode != 0:
			status = fmt.Sprintf("exit %d", r.ExitCode)
		}
		fmt.Fprintf(w, "  %-24s %-10s %s\n", label, r.Duration.Round(time.Millisecond), status)
	}
}

// resultError returns an *ExitError for the first failed build, in job order
func resultError(results []buildResult) error {
	var failed []error
	code := 0
	for _, r := range results {
		if !r.Failed() {
			continue
		}
		if code == 0 {
			code = r.ExitCode
			if code <= 0 {
				code = 1
			}
		}
		err := r.Err
		if err == nil {
			err = fmt.Errorf("exited with status %d", r.ExitCode)
		}
		failed = append(failed, fmt.Errorf("%s: %w", r.Job, err))
	}
	if len(failed) == 0 {
		return nil
	}
	return &ExitError{
		Code: code,
		Err:  fmt.Errorf("%d of %d builds failed: %w", len(failed), len(results), errors.Join(failed...)),
	}
}
