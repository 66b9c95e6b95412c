package store

import (
	"time"

	"github.com/RevCBH/dockerslaves/internal/events"
)

// BuildStatus is the outcome of a node request
type BuildStatus string

const (
	BuildStatusRunning    BuildStatus = "running"
	BuildStatusFailed     BuildStatus = "failed"
	BuildStatusTerminated BuildStatus = "terminated"
)

// Build is a node request and the build that ran on it
type Build struct {
	Provisioning string
	Job          string
	Build        *string
	Phase        string
	Status       BuildStatus
	Error        *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Identity returns the build identity, or the job while no build is attached
func (b *Build) Identity() string {
	if b.Build != nil && *b.Build != "" {
		return *b.Build
	}
	return b.Job
}

// ContainerRecord is a container created for a build
type ContainerRecord struct {
	ID           string
	Provisioning string
	Name         string
	Role         string
	Image        string
	CreatedAt    time.Time
	RemovedAt    *time.Time
}

// Live reports whether the container was never recorded as removed
func (c *ContainerRecord) Live() bool {
	return c.RemovedAt == nil
}

// EventRecord is a stored event
type EventRecord struct {
	ID           int64
	Provisioning string
	Sequence     int
	EventType    string
	PayloadJSON  string
	CreatedAt    time.Time
}

// Event decodes the stored event
func (r *EventRecord) Event() (events.Event, error) {
	return events.ParseJSONEvent([]byte(r.PayloadJSON))
}
