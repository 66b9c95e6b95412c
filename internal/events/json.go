package events

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// JSONEvent is the wire format for serialized events, one per line on
// stdout and in the state ledger.
type JSONEvent struct {
	Type         string                 `json:"type"`
	Timestamp    time.Time              `json:"timestamp"`
	Provisioning string                 `json:"provisioning,omitempty"`
	Job          string                 `json:"job,omitempty"`
	Build        string                 `json:"build,omitempty"`
	Role         string                 `json:"role,omitempty"`
	Container    string                 `json:"container,omitempty"`
	ContainerID  string                 `json:"container_id,omitempty"`
	Image        string                 `json:"image,omitempty"`
	Phase        string                 `json:"phase,omitempty"`
	ExitCode     *int                   `json:"exit_code,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// IsJSONMode returns true if JSON event output should be enabled.
// Checks: (1) explicit forceJSON flag, (2) non-TTY stdout.
func IsJSONMode(forceJSON bool) bool {
	if forceJSON {
		return true
	}

	if os.Stdout != nil {
		return !term.IsTerminal(int(os.Stdout.Fd()))
	}

	return true
}

// JSONEmitter writes events as JSON lines to a writer.
// Thread-safe for concurrent Emit calls.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONEmitter creates a new JSON emitter that writes to w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{enc: json.NewEncoder(w)}
}

// Emit writes event as a single JSON line.
func (e *JSONEmitter) Emit(event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(ToJSONEvent(event))
}

// JSONEmitterHandler returns a Handler that emits events as JSON lines.
// Errors are logged but not propagated (handler interface has no return).
func JSONEmitterHandler(emitter *JSONEmitter) Handler {
	return func(e Event) {
		if err := emitter.Emit(e); err != nil {
			slog.Warn("failed to emit JSON event", "error", err)
		}
	}
}

// ToJSONEvent converts an internal Event to the wire format JSONEvent.
func ToJSONEvent(e Event) JSONEvent {
	je := JSONEvent{
		Type:         string(e.Type),
		Timestamp:    e.Time,
		Provisioning: e.Provisioning,
		Job:          e.Job,
		Build:        e.Build,
		Role:         e.Role,
		Container:    e.Container,
		ContainerID:  e.ContainerID,
		Image:        e.Image,
		Phase:        e.Phase,
		ExitCode:     e.ExitCode,
		Error:        e.Error,
	}

	if e.Payload != nil {
		switch p := e.Payload.(type) {
		case map[string]interface{}:
			je.Payload = p
		default:
			je.Payload = map[string]interface{}{"value": e.Payload}
		}
	}

	return je
}

// ToEvent converts a wire format JSONEvent back to an internal Event.
func (je JSONEvent) ToEvent() Event {
	var payload any
	if je.Payload != nil {
		payload = je.Payload
	}

	return Event{
		Type:         EventType(je.Type),
		Time:         je.Timestamp,
		Provisioning: je.Provisioning,
		Job:          je.Job,
		Build:        je.Build,
		Role:         je.Role,
		Container:    je.Container,
		ContainerID:  je.ContainerID,
		Image:        je.Image,
		Phase:        je.Phase,
		ExitCode:     je.ExitCode,
		Payload:      payload,
		Error:        je.Error,
	}
}

// ParseJSONEvent parses a JSON line (in JSONEvent wire format) into an internal Event.
func ParseJSONEvent(line []byte) (Event, error) {
	var je JSONEvent
	if err := json.Unmarshal(line, &je); err != nil {
		return Event{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return je.ToEvent(), nil
}
