package web

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/RevCBH/dockerslaves/internal/store"
)

// keepAliveInterval paces comments sent on idle streams; a failed flush
// ends the stream
const keepAliveInterval = 15 * time.Second

type handlers struct {
	store Store
	hub   *Hub
}

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// Health reports liveness.
// GET /healthz
func (h *handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// ListBuilds returns builds newest first.
// GET /api/v1/builds?limit=N
func (h *handlers) ListBuilds(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	builds, err := h.store.ListBuilds(limit)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	resp := make([]BuildResponse, 0, len(builds))
	for _, b := range builds {
		resp = append(resp, toBuildResponse(b))
	}
	return c.JSON(resp)
}

// lookup finds a build by provisioning ID or build identity ("job#N")
func (h *handlers) lookup(c *fiber.Ctx) (*store.Build, error) {
	id := c.Params("id")
	if id == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "build ID is required")
	}

	b, err := h.store.GetBuild(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		if b, err = h.store.FindBuild(id); err != nil {
			return nil, err
		}
	}
	if b == nil {
		return nil, fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("build not found: %s", id))
	}
	return b, nil
}

func (h *handlers) lookupError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return errorJSON(c, fiber.StatusInternalServerError, err)
}

// GetBuild returns one build.
// GET /api/v1/builds/:id
func (h *handlers) GetBuild(c *fiber.Ctx) error {
	b, err := h.lookup(c)
	if err != nil {
		return h.lookupError(c, err)
	}
	return c.JSON(toBuildResponse(b))
}

// ListContainers returns the containers of a build in creation order.
// GET /api/v1/builds/:id/containers
func (h *handlers) ListContainers(c *fiber.Ctx) error {
	b, err := h.lookup(c)
	if err != nil {
		return h.lookupError(c, err)
	}

	containers, err := h.store.ListContainers(b.Provisioning)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	resp := make([]ContainerResponse, 0, len(containers))
	for _, ctr := range containers {
		resp = append(resp, toContainerResponse(ctr))
	}
	return c.JSON(resp)
}

// ListEvents returns the stored events of a build.
// GET /api/v1/builds/:id/events?since=N
func (h *handlers) ListEvents(c *fiber.Ctx) error {
	b, err := h.lookup(c)
	if err != nil {
		return h.lookupError(c, err)
	}

	since := 0
	if s := c.Query("since"); s != "" {
		if since, err = strconv.Atoi(s); err != nil || since < 0 {
			return errorJSON(c, fiber.StatusBadRequest, fmt.Errorf("invalid since: %q", s))
		}
	}

	records, err := h.store.ListEventsSince(b.Provisioning, since)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	resp := make([]EventResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, EventResponse{
			Sequence: r.Sequence,
			Type:     r.EventType,
			Data:     json.RawMessage(r.PayloadJSON),
		})
	}
	return c.JSON(resp)
}

// Stream provides the live SSE event stream.
// GET /api/v1/stream
func (h *handlers) Stream(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Access-Control-Allow-Origin", "*")

	client := NewClient()
	if !h.hub.Register(client) {
		return errorJSON(c, fiber.StatusServiceUnavailable, fmt.Errorf("server is shutting down"))
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unregister(client)

		fmt.Fprintf(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-client.events:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					slog.Warn("failed to encode stream event", "client", client.ID(), "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			case <-ticker.C:
				fmt.Fprintf(w, ": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
