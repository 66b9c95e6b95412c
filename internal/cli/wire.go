package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/RevCBH/dockerslaves/internal/config"
	"github.com/RevCBH/dockerslaves/internal/container"
	"github.com/RevCBH/dockerslaves/internal/events"
	"github.com/RevCBH/dockerslaves/internal/lifecycle"
	"github.com/RevCBH/dockerslaves/internal/slave"
	"github.com/RevCBH/dockerslaves/internal/store"
)

// Host holds all wired components a command drives builds with
type Host struct {
	Config     *config.Config
	Manager    container.Manager
	Store      *store.DB
	Events     *events.Bus
	Controller *lifecycle.Controller

	closeManager func() error
}

// newManager selects the container runtime backend from the config
func newManager(cfg *config.Config) (container.Manager, func() error, error) {
	if cfg.Runtime == "api" {
		mgr, err := container.NewAPIManager()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to the docker API: %w", err)
		}
		return mgr, mgr.Close, nil
	}

	bin, err := container.DetectRuntime(cfg.Runtime)
	if err != nil {
		return nil, nil, err
	}
	return container.NewCLIManager(bin), nil, nil
}

// openStore opens the state ledger, creating its directory when needed
func openStore(cfg *config.Config) (*store.DB, error) {
	if err := config.EnsureStateDir(cfg.StateDB); err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.StateDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	return db, nil
}

// WireHost assembles the runtime, ledger, event bus and controller
func WireHost(cfg *config.Config, logger *slog.Logger) (*Host, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	mgr, closeManager, err := newManager(cfg)
	if err != nil {
		return nil, err
	}

	db, err := openStore(cfg)
	if err != nil {
		if closeManager != nil {
			_ = closeManager()
		}
		return nil, err
	}

	h := wireHost(cfg, mgr, db, logger)
	h.closeManager = closeManager
	return h, nil
}

// wireHost connects already opened components
func wireHost(cfg *config.Config, mgr container.Manager, db *store.DB, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}

	// Create event bus first (the store and controller hang off it)
	bus := events.NewBus(1000)
	bus.Subscribe(events.StoreHandler(events.StoreConfig{
		Recorder: db,
		OnError: func(err error) {
			logger.Warn("failed to record event", "error", err)
		},
	}))

	factory := func(job lifecycle.JobIdentity, bus *events.Bus) (lifecycle.Environment, error) {
		opts, err := cfg.ProvisionerOptions(job.Name)
		if err != nil {
			return nil, err
		}
		opts.Events = bus
		opts.Logger = logger.With("job", job.Name)
		return slave.New(mgr, opts), nil
	}

	ctrl := lifecycle.NewController(factory,
		lifecycle.WithEvents(bus),
		lifecycle.WithConnector(drainChannel(logger)),
		lifecycle.WithLogger(logger),
	)

	return &Host{
		Config:     cfg,
		Manager:    mgr,
		Store:      db,
		Events:     bus,
		Controller: ctrl,
	}
}

// Close flushes pending events into the ledger, then closes it and the runtime
func (h *Host) Close() error {
	var errs []error
	if h.Events != nil {
		if err := h.Events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
		}
	}
	if h.Store != nil {
		if err := h.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close state db: %w", err))
		}
	}
	if h.closeManager != nil {
		if err := h.closeManager(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// drainChannel stands in for the agent end of the remoting channel: it
// keeps the stream read and logs what the agent prints.
func drainChannel(logger *slog.Logger) slave.ChannelConnector {
	return func(ctx context.Context, c *container.Container, ch io.ReadWriteCloser) error {
		go func() {
			scanner := bufio.NewScanner(ch)
			for scanner.Scan() {
				logger.Debug("remoting", "container", c.Name, "line", scanner.Text())
			}
		}()
		return nil
	}
}
