package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/RevCBH/dockerslaves/internal/store"
)

// StatusOptions holds flags for the status command
type StatusOptions struct {
	Limit   int  // Number of builds to show, newest first (0 = all)
	Running bool // Only builds whose environment is still up
	JSON    bool // Output as JSON instead of a table
}

// BuildStatus is one row of the status output
type BuildStatus struct {
	Provisioning string     `json:"provisioning"`
	Job          string     `json:"job"`
	Build        string     `json:"build,omitempty"`
	Phase        string     `json:"phase"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Containers   int        `json:"live_containers"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ledger is the part of the state ledger status and watch read
type ledger interface {
	ListBuilds(limit int) ([]*store.Build, error)
	ListBuildsByStatus(status store.BuildStatus) ([]*store.Build, error)
	ListContainers(provisioning string) ([]*store.ContainerRecord, error)
}

// NewStatusCmd creates the status command
func NewStatusCmd(app *App) *cobra.Command {
	opts := StatusOptions{Limit: 20}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show builds recorded in the state ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ShowStatus(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", opts.Limit, "Number of builds to show (0 = all)")
	cmd.Flags().BoolVar(&opts.Running, "running", false, "Only show builds that are still running")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output as JSON instead of a table")

	return cmd
}

// ShowStatus prints the recorded builds
func (a *App) ShowStatus(cmd *cobra.Command, opts StatusOptions) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := collectStatus(db, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		return outputJSON(out, rows)
	}
	fmt.Fprint(out, formatStatus(rows, time.Now()))
	return nil
}

// collectStatus reads builds and counts their live containers
func collectStatus(l ledger, opts StatusOptions) ([]BuildStatus, error) {
	var (
		builds []*store.Build
		err    error
	)
	if opts.Running {
		builds, err = l.ListBuildsByStatus(store.BuildStatusRunning)
		if err == nil && opts.Limit > 0 && len(builds) > opts.Limit {
			builds = builds[:opts.Limit]
		}
	} else {
		builds, err = l.ListBuilds(opts.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}

	rows := make([]BuildStatus, 0, len(builds))
	for _, b := range builds {
		containers, err := l.ListContainers(b.Provisioning)
		if err != nil {
			return nil, fmt.Errorf("failed to list containers of %s: %w", b.Provisioning, err)
		}
		live := 0
		for _, c := range containers {
			if c.Live() {
				live++
			}
		}
		row := BuildStatus{
			Provisioning: b.Provisioning,
			Job:          b.Job,
			Phase:        b.Phase,
			Status:       string(b.Status),
			Containers:   live,
			StartedAt:    b.StartedAt,
			FinishedAt:   b.FinishedAt,
		}
		if b.Build != nil {
			row.Build = *b.Build
		}
		if b.Error != nil {
			row.Error = *b.Error
		}
		rows = append(rows, row)
	}
	return rows, nil
}

var (
	statusHeader  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statusCell    = lipgloss.NewStyle().Padding(0, 1)
	statusRunning = statusCell.Foreground(lipgloss.Color("214"))
	statusFailed  = statusCell.Foreground(lipgloss.Color("196"))
	statusDone    = statusCell.Foreground(lipgloss.Color("42"))
)

// formatStatus renders rows as a table
func formatStatus(rows []BuildStatus, now time.Time) string {
	if len(rows) == 0 {
		return "No builds recorded\n"
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("BUILD", "PROVISIONING", "PHASE", "STATUS", "CONTAINERS", "DURATION", "ERROR")

	for _, r := range rows {
		label := r.Build
		if label == "" {
			label = r.Job
		}
		end := now
		if r.FinishedAt != nil {
			end = *r.FinishedAt
		}
		t.Row(
			label,
			r.Provisioning,
			r.Phase,
			r.Status,
			strconv.Itoa(r.Containers),
			end.Sub(r.StartedAt).Round(time.Second).String(),
			truncate(r.Error, 40),
		)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return statusHeader
		}
		if col == 3 && row >= 0 && row < len(rows) {
			switch store.BuildStatus(rows[row].Status) {
			case store.BuildStatusRunning:
				return statusRunning
			case store.BuildStatusFailed:
				return statusFailed
			default:
				return statusDone
			}
		}
		return statusCell
	})

	return t.String() + "\n"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// outputJSON writes v as indented JSON
func outputJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
