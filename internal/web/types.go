package web

import (
	"time"

	"github.com/RevCBH/dockerslaves/internal/store"
)

// Config holds the server settings.
type Config struct {
	// Addr is the HTTP listen address (default: 127.0.0.1:8080)
	Addr string

	// Store is the state ledger served by the API
	Store Store
}

// Store is the read side of the state ledger
type Store interface {
	ListBuilds(limit int) ([]*store.Build, error)
	GetBuild(provisioning string) (*store.Build, error)
	FindBuild(identity string) (*store.Build, error)
	ListContainers(provisioning string) ([]*store.ContainerRecord, error)
	ListEventsSince(provisioning string, sequence int) ([]*store.EventRecord, error)
}

// BuildResponse is the JSON form of a build
type BuildResponse struct {
	Provisioning string     `json:"provisioning"`
	Job          string     `json:"job"`
	Build        string     `json:"build,omitempty"`
	Phase        string     `json:"phase"`
	Status       string     `json:"status"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ContainerResponse is the JSON form of a container record
type ContainerResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	Image     string     `json:"image"`
	Live      bool       `json:"live"`
	CreatedAt time.Time  `json:"created_at"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// EventResponse is a stored event with its sequence number
type EventResponse struct {
	Sequence int    `json:"sequence"`
	Type     string `json:"type"`
	Data     any    `json:"data"`
}

func toBuildResponse(b *store.Build) BuildResponse {
	r := BuildResponse{
		Provisioning: b.Provisioning,
		Job:          b.Job,
		Phase:        b.Phase,
		Status:       string(b.Status),
		StartedAt:    b.StartedAt,
		FinishedAt:   b.FinishedAt,
	}
	if b.Build != nil {
		r.Build = *b.Build
	}
	if b.Error != nil {
		r.Error = *b.Error
	}
	return r
}

func toContainerResponse(c *store.ContainerRecord) ContainerResponse {
	return ContainerResponse{
		ID:        c.ID,
		Name:      c.Name,
		Role:      c.Role,
		Image:     c.Image,
		Live:      c.Live(),
		CreatedAt: c.CreatedAt,
		RemovedAt: c.RemovedAt,
	}
}
