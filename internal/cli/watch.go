package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/RevCBH/dockerslaves/internal/cli/tui"
	"github.com/RevCBH/dockerslaves/internal/store"
)

// WatchOptions holds flags for the watch command
type WatchOptions struct {
	Interval time.Duration // Ledger poll interval
	Limit    int           // Number of builds shown
}

// NewWatchCmd creates the 'watch' command: a live view of the ledger that
// follows builds run by any dockerslaves process on this host
func NewWatchCmd(app *App) *cobra.Command {
	opts := WatchOptions{
		Interval: time.Second,
		Limit:    20,
	}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow builds live from the state ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Watch(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", opts.Interval, "Poll interval")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", opts.Limit, "Number of builds to show")

	return cmd
}

// Watch runs the TUI over the ledger until the user quits
func (a *App) Watch(cmd *cobra.Command, opts WatchOptions) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("watch needs a terminal; use 'dockerslaves status' instead")
	}
	if opts.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", opts.Interval)
	}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	model := tui.NewWatchModel("dockerslaves watch", ledgerPoller(db, opts.Limit), opts.Interval)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("TUI failed: %w", err)
	}
	return nil
}

// ledgerPoller reads the TUI snapshot from the ledger
func ledgerPoller(l ledger, limit int) tui.Poller {
	return func() ([]tui.BuildState, error) {
		rows, err := collectStatus(l, StatusOptions{Limit: limit})
		if err != nil {
			return nil, err
		}
		states := make([]tui.BuildState, 0, len(rows))
		for _, r := range rows {
			states = append(states, tui.BuildState{
				Provisioning: r.Provisioning,
				Job:          r.Job,
				Build:        r.Build,
				Phase:        r.Phase,
				Containers:   r.Containers,
				Error:        r.Error,
				Failed:       r.Status == string(store.BuildStatusFailed),
				Finished:     r.Status == string(store.BuildStatusTerminated),
				Started:      r.StartedAt,
			})
		}
		return states, nil
	}
}
