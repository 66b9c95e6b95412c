package events

import (
	"fmt"
	"strings"
	"time"
)

// Event represents a single occurrence in the life of a provisioned build
// environment
type Event struct {
	// Time is when the event occurred (set by bus on emit)
	Time time.Time `json:"time"`

	// Type identifies what happened
	Type EventType `json:"type"`

	// Provisioning is the provisioning ID the event relates to
	Provisioning string `json:"provisioning,omitempty"`

	// Job is the job name
	Job string `json:"job,omitempty"`

	// Build is the build identity (empty until the build is attached)
	Build string `json:"build,omitempty"`

	// Role is the container role (remoting, scm, build, side)
	Role string `json:"role,omitempty"`

	// Container is the container name
	Container string `json:"container,omitempty"`

	// ContainerID is the runtime-assigned container ID
	ContainerID string `json:"container_id,omitempty"`

	// Image is the image reference involved
	Image string `json:"image,omitempty"`

	// Phase is the build phase after a phase change
	Phase string `json:"phase,omitempty"`

	// ExitCode is the process exit code (nil if not process-related)
	ExitCode *int `json:"exit_code,omitempty"`

	// Payload contains event-specific data (type varies by event)
	Payload any `json:"payload,omitempty"`

	// Error contains error message if this is a failure event
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category
type EventType string

// Provisioning lifecycle events
const (
	ProvisioningStarted EventType = "provisioning.started"
	ProvisioningFailed  EventType = "provisioning.failed"
	BuildAttached       EventType = "build.attached"
	PhaseChanged        EventType = "phase.changed"
)

// Image events
const (
	ImageResolved EventType = "image.resolved"
	ImageFailed   EventType = "image.failed"
)

// Container events
const (
	ContainerCreated       EventType = "container.created"
	ContainerStarted       EventType = "container.started"
	ContainerRemoved       EventType = "container.removed"
	ContainerRemoveFailed  EventType = "container.remove.failed"
	ContainerChannelOpened EventType = "container.channel.opened"
)

// Process events
const (
	// ProcessStarted is emitted before the runtime exec
	// Payload: command (string)
	ProcessStarted EventType = "process.started"

	// ProcessExited is emitted when the process ran to completion, whatever
	// its exit code
	ProcessExited EventType = "process.exited"

	// ProcessFailed is emitted when the process could not be run or waited for
	ProcessFailed EventType = "process.failed"
)

// Cleanup events
const (
	CleanupStarted   EventType = "cleanup.started"
	CleanupCompleted EventType = "cleanup.completed"
	CleanupFailed    EventType = "cleanup.failed"
)

// NewEvent creates an event with the given type and provisioning ID
func NewEvent(eventType EventType, provisioning string) Event {
	return Event{
		Type:         eventType,
		Provisioning: provisioning,
	}
}

// WithJob returns a copy of the event with the job set
func (e Event) WithJob(job string) Event {
	e.Job = job
	return e
}

// WithBuild returns a copy of the event with the build identity set
func (e Event) WithBuild(build string) Event {
	e.Build = build
	return e
}

// WithContainer returns a copy of the event describing a container
func (e Event) WithContainer(role, name, id string) Event {
	e.Role = role
	e.Container = name
	e.ContainerID = id
	return e
}

// WithImage returns a copy of the event with the image set
func (e Event) WithImage(image string) Event {
	e.Image = image
	return e
}

// WithPhase returns a copy of the event with the phase set
func (e Event) WithPhase(phase string) Event {
	e.Phase = phase
	return e
}

// WithExitCode returns a copy of the event with the exit code set
func (e Event) WithExitCode(code int) Event {
	e.ExitCode = &code
	return e
}

// WithPayload returns a copy of the event with the payload set
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure returns true if this is a failure event type
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed")
}

// Subject returns the most specific identity of the event: the build if
// attached, otherwise the job.
func (e Event) Subject() string {
	if e.Build != "" {
		return e.Build
	}
	return e.Job
}

// String returns a human-readable representation of the event
func (e Event) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))

	if s := e.Subject(); s != "" {
		parts = append(parts, s)
	}
	if e.Role != "" {
		parts = append(parts, "role="+e.Role)
	}
	if e.Image != "" {
		parts = append(parts, "image="+e.Image)
	}
	if e.Phase != "" {
		parts = append(parts, "phase="+e.Phase)
	}
	if e.ExitCode != nil {
		parts = append(parts, fmt.Sprintf("exit=%d", *e.ExitCode))
	}

	return strings.Join(parts, " ")
}
