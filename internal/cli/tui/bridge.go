package tui

import (
	"github.com/RevCBH/dockerslaves/internal/events"
	tea "github.com/charmbracelet/bubbletea"
)

// Sender is the part of *tea.Program the bridge uses
type Sender interface {
	Send(msg tea.Msg)
}

// Bridge connects the event bus to the bubbletea program
type Bridge struct {
	program Sender
}

// NewBridge creates a new bridge for the given program
func NewBridge(program Sender) *Bridge {
	return &Bridge{
		program: program,
	}
}

// Handler returns an event handler function for the event bus
func (b *Bridge) Handler() events.Handler {
	return func(evt events.Event) {
		msg := eventToMsg(evt)
		if msg != nil {
			b.program.Send(msg)
		}
	}
}

// eventToMsg converts an events.Event to a tea.Msg
func eventToMsg(evt events.Event) tea.Msg {
	switch evt.Type {
	case events.ProvisioningStarted:
		return BuildStartedMsg{
			Provisioning: evt.Provisioning,
			Job:          evt.Job,
			Time:         evt.Time,
		}

	case events.BuildAttached:
		return BuildAttachedMsg{
			Provisioning: evt.Provisioning,
			Build:        evt.Build,
		}

	case events.PhaseChanged:
		return PhaseMsg{
			Provisioning: evt.Provisioning,
			Phase:        evt.Phase,
		}

	case events.ContainerCreated:
		return ContainerMsg{Provisioning: evt.Provisioning, Delta: 1}

	case events.ContainerRemoved:
		return ContainerMsg{Provisioning: evt.Provisioning, Delta: -1}

	case events.ProcessExited:
		if evt.ExitCode == nil {
			return nil
		}
		return ProcessExitedMsg{
			Provisioning: evt.Provisioning,
			ExitCode:     *evt.ExitCode,
		}

	case events.ProvisioningFailed:
		return BuildFailedMsg{
			Provisioning: evt.Provisioning,
			Error:        evt.Error,
		}

	case events.CleanupCompleted, events.CleanupFailed:
		return BuildFinishedMsg{
			Provisioning: evt.Provisioning,
			Error:        evt.Error,
		}

	default:
		return nil
	}
}

// SendDone sends a DoneMsg to the program
func (b *Bridge) SendDone() {
	b.program.Send(DoneMsg{})
}

// SendQuit sends a QuitMsg to the program
func (b *Bridge) SendQuit() {
	b.program.Send(QuitMsg{})
}
