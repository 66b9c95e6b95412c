package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/RevCBH/dockerslaves/internal/container"
	"github.com/RevCBH/dockerslaves/internal/store"
)

// CleanupOptions holds flags for the cleanup command
type CleanupOptions struct {
	Orphans bool // Also remove labelled containers unknown to the ledger
	All     bool // Include builds the ledger still shows as running
	DryRun  bool // Only print what would be removed
}

// NewCleanupCmd creates the cleanup command
func NewCleanupCmd(app *App) *cobra.Command {
	opts := CleanupOptions{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove containers left behind by interrupted builds",
		Long: `Cleanup removes containers the ledger still lists as live although their
build is no longer running, which happens when a dockerslaves process is
killed before it could clean up.

--orphans also removes every container carrying the provisioning label
that the ledger does not know about. Containers of builds still running
are kept unless --all is given, which also finishes those builds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Cleanup(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Orphans, "orphans", false, "Also remove labelled containers unknown to the ledger")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Include builds still marked running")
	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "n", false, "Print what would be removed")

	return cmd
}

// Cleanup removes leftover containers
func (a *App) Cleanup(ctx context.Context, cmd *cobra.Command, opts CleanupOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	stop, err := cfg.StopTimeoutDuration()
	if err != nil {
		return err
	}
	timeout, err := cfg.CleanupTimeoutDuration()
	if err != nil {
		return err
	}

	mgr, closeManager, err := newManager(cfg)
	if err != nil {
		return err
	}
	if closeManager != nil {
		defer closeManager()
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	c := &cleaner{
		mgr:         mgr,
		db:          db,
		stopTimeout: stop,
		timeout:     timeout,
		logger:      a.logger,
		out:         cmd.OutOrStdout(),
	}
	report, err := c.Run(ctx, opts)
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d containers, kept %d of running builds, finished %d builds\n",
		report.Removed, report.Kept, report.Finished)
	return err
}

// cleanupTarget is a container to remove
type cleanupTarget struct {
	ID           string
	Name         string
	Provisioning string
}

func (t cleanupTarget) String() string {
	if t.Name != "" {
		return t.Name
	}
	return shortContainerID(t.ID)
}

// cleanupReport counts what a cleanup did
type cleanupReport struct {
	Removed  int
	Kept     int
	Finished int
}

// cleaner removes containers the ledger or the runtime still holds
type cleaner struct {
	mgr         container.Manager
	db          *store.DB
	stopTimeout time.Duration
	timeout     time.Duration
	logger      *slog.Logger
	out         io.Writer
}

// Run finds and removes leftover containers, then closes out the builds
// that no longer have any
func (c *cleaner) Run(ctx context.Context, opts CleanupOptions) (cleanupReport, error) {
	var report cleanupReport

	builds, err := c.db.ListBuilds(0)
	if err != nil {
		return report, fmt.Errorf("failed to list builds: %w", err)
	}
	running := make(map[string]bool)
	for _, b := range builds {
		if b.Status == store.BuildStatusRunning {
			running[b.Provisioning] = true
		}
	}

	live, err := c.db.ListLiveContainers()
	if err != nil {
		return report, fmt.Errorf("failed to list containers: %w", err)
	}

	targets := make(map[string]cleanupTarget)
	kept := make(map[string]bool)
	for _, rec := range live {
		if running[rec.Provisioning] && !opts.All {
			kept[rec.ID] = true
			continue
		}
		targets[rec.ID] = cleanupTarget{ID: rec.ID, Name: rec.Name, Provisioning: rec.Provisioning}
	}

	if opts.Orphans {
		ids, err := c.mgr.ListByLabel(ctx, container.LabelProvisioning)
		if err != nil {
			return report, fmt.Errorf("failed to list labelled containers: %w", err)
		}
		for _, id := range ids {
			if _, ok := targets[string(id)]; ok || kept[string(id)] {
				continue
			}
			targets[string(id)] = cleanupTarget{ID: string(id)}
		}
	}
	report.Kept = len(kept)

	ordered := make([]cleanupTarget, 0, len(targets))
	for _, t := range targets {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var errs []error
	for _, t := range ordered {
		if opts.DryRun {
			fmt.Fprintf(c.out, "would remove %s\n", t)
			continue
		}
		if err := c.remove(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		report.Removed++
		fmt.Fprintf(c.out, "removed %s\n", t)
	}
	if opts.DryRun {
		return report, nil
	}

	finished, err := c.finishBuilds(builds, opts.All)
	report.Finished = finished
	if err != nil {
		errs = append(errs, err)
	}
	return report, errors.Join(errs...)
}

// remove stops and force-removes one container, each bounded by the
// cleanup timeout, and records the removal
func (c *cleaner) remove(ctx context.Context, t cleanupTarget) error {
	id := container.ContainerID(t.ID)

	stopCtx, cancel := context.WithTimeout(ctx, c.timeout)
	if err := c.mgr.Stop(stopCtx, id, c.stopTimeout); err != nil {
		c.logger.Debug("stop failed, removing anyway", "container", t.String(), "error", err)
	}
	cancel()

	rmCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.mgr.Remove(rmCtx, id); err != nil {
		return err
	}
	if err := c.db.MarkContainerRemoved(t.ID, time.Now()); err != nil {
		c.logger.Warn("failed to record removal", "container", t.String(), "error", err)
	}
	return nil
}

// finishBuilds terminates builds whose containers are all gone
func (c *cleaner) finishBuilds(builds []*store.Build, all bool) (int, error) {
	var errs []error
	finished := 0
	for _, b := range builds {
		if b.FinishedAt != nil {
			continue
		}
		if b.Status == store.BuildStatusRunning && !all {
			continue
		}
		containers, err := c.db.ListContainers(b.Provisioning)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if anyLive(containers) {
			continue
		}
		if b.Status == store.BuildStatusRunning {
			if err := c.db.MarkBuildFailed(b.Provisioning, "abandoned: removed by cleanup"); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := c.db.FinishBuild(b.Provisioning, time.Now()); err != nil {
			errs = append(errs, err)
			continue
		}
		finished++
	}
	return finished, errors.Join(errs...)
}

func anyLive(containers []*store.ContainerRecord) bool {
	for _, rec := range containers {
		if rec.Live() {
			return true
		}
	}
	return false
}

func shortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
