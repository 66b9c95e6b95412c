package tui

import (
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// BuildState tracks one build environment in the TUI
type BuildState struct {
	Provisioning string
	Job          string
	Build        string
	Phase        string
	Containers   int
	LastExit     *int
	Error        string
	Failed       bool
	Finished     bool
	Started      time.Time
}

// Label is the build identity, or the job until a build is attached
func (b *BuildState) Label() string {
	if b.Build != "" {
		return b.Build
	}
	return b.Job
}

// Poller returns the current builds; used when the TUI watches the ledger
type Poller func() ([]BuildState, error)

// Model is the bubbletea model for the TUI
type Model struct {
	// Configuration
	Title        string
	Styles       Styles
	PollInterval time.Duration

	// State
	Builds    map[string]*BuildState
	StartTime time.Time
	LogLines  []string
	LogLimit  int
	ShowLogs  bool
	PollError string
	Width     int
	Height    int

	// Control
	Quitting bool
	Done     bool

	poller Poller
}

// NewModel creates a model fed by bus events through a Bridge
func NewModel(title string) *Model {
	return &Model{
		Title:     title,
		Styles:    DefaultStyles(),
		Builds:    make(map[string]*BuildState),
		StartTime: time.Now(),
		LogLimit:  500,
		ShowLogs:  true,
	}
}

// NewWatchModel creates a model that refreshes itself from poll
func NewWatchModel(title string, poll Poller, interval time.Duration) *Model {
	m := NewModel(title)
	m.ShowLogs = false
	m.poller = poll
	m.PollInterval = interval
	return m
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	if m.poller != nil {
		return tea.Batch(tickCmd(), m.pollCmd(0))
	}
	return tickCmd()
}

// sorted returns builds in start order
func (m *Model) sorted() []*BuildState {
	out := make([]*BuildState, 0, len(m.Builds))
	for _, b := range m.Builds {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].Provisioning < out[j].Provisioning
	})
	return out
}

// counts returns the number of running, finished and failed builds
func (m *Model) counts() (running, finished, failed int) {
	for _, b := range m.Builds {
		switch {
		case b.Failed:
			failed++
		case b.Finished:
			finished++
		default:
			running++
		}
	}
	return running, finished, failed
}

// TickMsg is sent every second to update the timer
type TickMsg time.Time

// tickCmd returns a command that sends TickMsg every second
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m *Model) pollCmd(delay time.Duration) tea.Cmd {
	poll := m.poller
	fetch := func() tea.Msg {
		builds, err := poll()
		return SnapshotMsg{Builds: builds, Err: err}
	}
	if delay <= 0 {
		return fetch
	}
	return tea.Tick(delay, func(time.Time) tea.Msg { return fetch() })
}

// DoneMsg signals the TUI should exit
type DoneMsg struct{}

// QuitMsg signals the user requested quit (q or Ctrl+C)
type QuitMsg struct{}

// BuildStartedMsg indicates a node was requested for a job
type BuildStartedMsg struct {
	Provisioning string
	Job          string
	Time         time.Time
}

// BuildAttachedMsg indicates a build took over a node
type BuildAttachedMsg struct {
	Provisioning string
	Build        string
}

// PhaseMsg indicates a phase change of a build environment
type PhaseMsg struct {
	Provisioning string
	Phase        string
}

// ContainerMsg reports containers created (Delta 1) or removed (Delta -1)
type ContainerMsg struct {
	Provisioning string
	Delta        int
}

// ProcessExitedMsg reports the exit code of a build process
type ProcessExitedMsg struct {
	Provisioning string
	ExitCode     int
}

// BuildFailedMsg indicates provisioning failed
type BuildFailedMsg struct {
	Provisioning string
	Error        string
}

// BuildFinishedMsg indicates the environment was cleaned up
type BuildFinishedMsg struct {
	Provisioning string
	Error        string
}

// SnapshotMsg replaces the build list with a polled snapshot
type SnapshotMsg struct {
	Builds []BuildState
	Err    error
}
