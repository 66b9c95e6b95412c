package tui

import (
	"fmt"
	"strings"
	"time"
)

// View implements tea.Model
func (m *Model) View() string {
	if m.Done || m.Quitting {
		return ""
	}

	var b strings.Builder

	// Header
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	b.WriteString(m.renderBuilds())

	// Status line
	b.WriteString(m.renderStatusLine())
	b.WriteString("\n")

	if m.ShowLogs && len(m.LogLines) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderLogs())
	}

	// Footer
	b.WriteString(m.renderFooter())

	return b.String()
}

// renderHeader renders the title line with timer
func (m *Model) renderHeader() string {
	elapsed := time.Since(m.StartTime).Round(time.Second)
	timer := fmt.Sprintf("[%s]", formatDuration(elapsed))

	header := fmt.Sprintf("%s  %s",
		m.Styles.Title.Render(m.Title),
		m.Styles.Timer.Render(timer),
	)
	if m.PollError != "" {
		header += "  " + m.Styles.ErrorText.Render(m.PollError)
	}
	return header
}

// renderBuilds renders one block per build environment
func (m *Model) renderBuilds() string {
	if len(m.Builds) == 0 {
		return "  No builds\n\n"
	}

	var b strings.Builder
	for _, build := range m.sorted() {
		b.WriteString(m.renderBuild(build))
		b.WriteString("\n")
	}
	return b.String()
}

// renderBuild renders a single build
func (m *Model) renderBuild(build *BuildState) string {
	var b strings.Builder

	// ● job#3 (01j9...) 2 containers
	var icon string
	switch {
	case build.Failed:
		icon = m.Styles.BuildFailed.Render(IconFailed)
	case build.Finished:
		icon = m.Styles.BuildFinished.Render(IconFinished)
	default:
		icon = m.Styles.BuildRunning.Render(IconRunning)
	}
	name := m.Styles.BuildName.Render(build.Label())
	detail := m.Styles.DetailText.Render(fmt.Sprintf("(%s) %s", shortID(build.Provisioning), pluralize(build.Containers, "container")))
	fmt.Fprintf(&b, "  %s %s %s\n", icon, name, detail)

	phase := build.Phase
	if build.LastExit != nil {
		phase = fmt.Sprintf("%s, last exit %d", phase, *build.LastExit)
	}
	fmt.Fprintf(&b, "      %s %s\n", phaseIcons[build.Phase], m.Styles.PhaseText.Render(phase))

	if build.Error != "" {
		fmt.Fprintf(&b, "      %s\n", m.Styles.ErrorText.Render(build.Error))
	}
	return b.String()
}

// renderStatusLine renders the summary status line
func (m *Model) renderStatusLine() string {
	running, finished, failed := m.counts()

	return fmt.Sprintf("  Builds: %d %s | %s | %s",
		len(m.Builds),
		m.Styles.BuildRunning.Render(fmt.Sprintf("%d running", running)),
		m.Styles.BuildFinished.Render(fmt.Sprintf("%d finished", finished)),
		m.Styles.BuildFailed.Render(fmt.Sprintf("%d failed", failed)),
	)
}

// renderLogs renders the tail of the build log that fits the window
func (m *Model) renderLogs() string {
	limit := 10
	if m.Height > 0 {
		limit = max(m.Height-4*len(m.Builds)-8, 3)
	}
	lines := m.LogLines
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	var b strings.Builder
	b.WriteString(m.Styles.LogTitle.Render("  Log"))
	b.WriteString("\n")
	for _, line := range lines {
		if m.Width > 4 && len(line) > m.Width-4 {
			line = line[:m.Width-4]
		}
		b.WriteString("  ")
		b.WriteString(m.Styles.LogLine.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

// renderFooter renders the help text
func (m *Model) renderFooter() string {
	quit := m.Styles.FooterKey.Render("q")
	logs := m.Styles.FooterKey.Render("l")
	return m.Styles.Footer.Render(fmt.Sprintf("  Press %s to quit, %s to toggle logs", quit, logs))
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// formatDuration formats a duration as HH:MM:SS
func formatDuration(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
