package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RevCBH/dockerslaves/internal/web"
)

// NewServeCmd creates the serve command
func NewServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build status API over the state ledger",
		Long: `Serve exposes the ledger over HTTP until interrupted:

  GET /healthz
  GET /api/v1/builds
  GET /api/v1/builds/{provisioning-or-build}
  GET /api/v1/builds/{id}/containers
  GET /api/v1/builds/{id}/events?since=N

The live event stream (/api/v1/stream) only carries events of builds run
by the same process; use 'dockerslaves run --web' for that.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Serve(cmd, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: web_addr from config)")

	return cmd
}

// Serve runs the status API until a signal arrives
func (a *App) Serve(cmd *cobra.Command, addr string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.WebAddr
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := web.New(web.Config{Addr: addr, Store: db})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := NewSignalHandler(cancel, cmd.ErrOrStderr())
	handler.Start()
	defer handler.Stop()

	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving status API on http://%s\n", srv.Addr())

	<-ctx.Done()

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return srv.Stop(stopCtx)
}
