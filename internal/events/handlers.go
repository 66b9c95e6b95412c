package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// LogConfig configures the logging handler
type LogConfig struct {
	// Writer is where logs are written (default: os.Stderr)
	Writer io.Writer

	// IncludePayload includes event payload in log output
	IncludePayload bool

	// TimeFormat is the timestamp format; empty omits the timestamp
	TimeFormat string
}

// StoreConfig configures the persistence handler
type StoreConfig struct {
	// Recorder receives the state changes derived from events
	Recorder Recorder

	// OnError is called when persistence fails
	OnError func(error)
}

// Recorder persists build state (matches store.DB).
// Define locally to avoid circular imports
type Recorder interface {
	CreateBuild(provisioning, job string, at time.Time) error
	SetBuildIdentity(provisioning, build string) error
	UpdateBuildPhase(provisioning, phase string) error
	MarkBuildFailed(provisioning, reason string) error
	FinishBuild(provisioning string, at time.Time) error
	RecordContainer(provisioning, id, name, role, image string, at time.Time) error
	MarkContainerRemoved(id string, at time.Time) error
	AppendEvent(provisioning string, eventType string, data []byte, at time.Time) error
}

// LogHandler returns a handler that logs events to the configured writer
// Format: [event.type] build role=R image=I phase=P exit=N error="..."
func LogHandler(cfg LogConfig) Handler {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	return func(e Event) {
		var buf strings.Builder
		if cfg.TimeFormat != "" {
			buf.WriteString(e.Time.Format(cfg.TimeFormat))
			buf.WriteString(" ")
		}
		buf.WriteString(e.String())

		if e.Container != "" {
			fmt.Fprintf(&buf, " container=%s", e.Container)
		}
		if e.Error != "" {
			fmt.Fprintf(&buf, " error=%q", e.Error)
		}
		if cfg.IncludePayload && e.Payload != nil {
			fmt.Fprintf(&buf, " payload=%v", e.Payload)
		}
		buf.WriteString("\n")

		fmt.Fprint(cfg.Writer, buf.String())
	}
}

// StoreHandler returns a handler that records every event and maps
// lifecycle events to build and container state
func StoreHandler(cfg StoreConfig) Handler {
	report := func(err error) {
		if err != nil && cfg.OnError != nil {
			cfg.OnError(err)
		}
	}

	return func(e Event) {
		if e.Provisioning == "" {
			return
		}

		// Rows referenced by the event must exist before it is appended
		switch e.Type {
		case ProvisioningStarted:
			report(cfg.Recorder.CreateBuild(e.Provisioning, e.Job, e.Time))
		case BuildAttached:
			report(cfg.Recorder.SetBuildIdentity(e.Provisioning, e.Build))
		case PhaseChanged:
			report(cfg.Recorder.UpdateBuildPhase(e.Provisioning, e.Phase))
		case ContainerCreated:
			report(cfg.Recorder.RecordContainer(e.Provisioning, e.ContainerID, e.Container, e.Role, e.Image, e.Time))
		case ContainerRemoved:
			report(cfg.Recorder.MarkContainerRemoved(e.ContainerID, e.Time))
		case ProvisioningFailed:
			report(cfg.Recorder.MarkBuildFailed(e.Provisioning, e.Error))
		case CleanupCompleted, CleanupFailed:
			report(cfg.Recorder.FinishBuild(e.Provisioning, e.Time))
		}

		data, err := json.Marshal(ToJSONEvent(e))
		if err != nil {
			report(fmt.Errorf("encode event: %w", err))
			return
		}
		report(cfg.Recorder.AppendEvent(e.Provisioning, string(e.Type), data, e.Time))
	}
}
