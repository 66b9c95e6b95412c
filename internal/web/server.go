// Package web serves the build status API over the state ledger.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"

	"github.com/RevCBH/dockerslaves/internal/events"
)

// DefaultAddr is used when Config.Addr is empty
const DefaultAddr = "127.0.0.1:8080"

// Server serves the status API and the live event stream.
type Server struct {
	addr string

	app *fiber.App
	hub *Hub
}

// New creates a new web server with the given configuration.
// Does not start listening - call Start() for that.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("web: store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	hub := NewHub()
	h := &handlers{store: cfg.Store, hub: hub}

	app := fiber.New(fiber.Config{
		AppName:               "dockerslaves",
		DisableStartupMessage: true,
		UnescapePath:          true,
	})

	app.Get("/healthz", h.Health)

	api := app.Group("/api/v1")
	api.Get("/builds", h.ListBuilds)
	api.Get("/builds/:id", h.GetBuild)
	api.Get("/builds/:id/containers", h.ListContainers)
	api.Get("/builds/:id/events", h.ListEvents)
	api.Get("/stream", h.Stream)

	return &Server{
		addr: cfg.Addr,
		app:  app,
		hub:  hub,
	}, nil
}

// Handler returns the bus handler feeding the live event stream.
func (s *Server) Handler() events.Handler {
	return s.hub.Handler()
}

// Start begins listening. Non-blocking - the server runs in a goroutine.
func (s *Server) Start() error {
	go s.hub.Run()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.hub.Stop()
		return fmt.Errorf("HTTP listen: %w", err)
	}
	// Update addr with actual address (important for ephemeral ports)
	s.addr = listener.Addr().String()

	go func() {
		if err := s.app.Listener(listener); err != nil {
			slog.Error("status API stopped", "addr", s.addr, "error", err)
		}
	}()

	slog.Info("status API listening", "addr", s.addr)
	return nil
}

// Stop closes open streams and shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (s *Server) Addr() string {
	return s.addr
}

// App exposes the fiber application, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}
