package tui

import "github.com/charmbracelet/lipgloss"

// Styles contains all lipgloss styles for the TUI
type Styles struct {
	// Header styling
	Title lipgloss.Style
	Timer lipgloss.Style

	// Build styling
	BuildRunning  lipgloss.Style
	BuildFinished lipgloss.Style
	BuildFailed   lipgloss.Style
	BuildName     lipgloss.Style

	// Phase and detail text
	PhaseText  lipgloss.Style
	DetailText lipgloss.Style
	ErrorText  lipgloss.Style

	// Footer styling
	Footer    lipgloss.Style
	FooterKey lipgloss.Style

	// Log area styling
	LogTitle lipgloss.Style
	LogLine  lipgloss.Style
}

// DefaultStyles returns the default TUI styles
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Timer: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),

		BuildRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		BuildFinished: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		BuildFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		BuildName:     lipgloss.NewStyle().Bold(true),

		PhaseText:  lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Italic(true),
		DetailText: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		ErrorText:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),

		Footer:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1),
		FooterKey: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),

		LogTitle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Bold(true),
		LogLine:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// Icons used in the TUI
const (
	IconRunning  = "●"
	IconFinished = "✓"
	IconFailed   = "✗"
)

// phaseIcons decorate the phase of a running build
var phaseIcons = map[string]string{
	"provisioning-remoting": "⏳",
	"awaiting-scm":          "⏸",
	"scm-running":           "📥",
	"build-running":         "🔨",
	"terminated":            "⏹",
}
