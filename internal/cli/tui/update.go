package tui

import tea "github.com/charmbracelet/bubbletea"

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.Quitting = true
			return m, tea.Quit
		case "l":
			m.ShowLogs = !m.ShowLogs
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case TickMsg:
		// Continue ticking for timer updates
		return m, tickCmd()

	case DoneMsg:
		m.Done = true
		return m, tea.Quit

	case QuitMsg:
		m.Quitting = true
		return m, tea.Quit

	case LogMsg:
		m.LogLines = append(m.LogLines, msg.Line)
		if m.LogLimit > 0 && len(m.LogLines) > m.LogLimit {
			m.LogLines = m.LogLines[len(m.LogLines)-m.LogLimit:]
		}

	case BuildStartedMsg:
		m.Builds[msg.Provisioning] = &BuildState{
			Provisioning: msg.Provisioning,
			Job:          msg.Job,
			Phase:        "provisioning-remoting",
			Started:      msg.Time,
		}

	case BuildAttachedMsg:
		if b, ok := m.Builds[msg.Provisioning]; ok {
			b.Build = msg.Build
		}

	case PhaseMsg:
		if b, ok := m.Builds[msg.Provisioning]; ok {
			b.Phase = msg.Phase
		}

	case ContainerMsg:
		if b, ok := m.Builds[msg.Provisioning]; ok {
			b.Containers = max(b.Containers+msg.Delta, 0)
		}

	case ProcessExitedMsg:
		if b, ok := m.Builds[msg.Provisioning]; ok {
			code := msg.ExitCode
			b.LastExit = &code
		}

	case BuildFailedMsg:
		if b, ok := m.Builds[msg.Provisioning]; ok {
			b.Failed = true
			b.Error = msg.Error
		}

	case BuildFinishedMsg:
		if b, ok := m.Builds[msg.Provisioning]; ok {
			b.Finished = true
			b.Phase = "terminated"
			if msg.Error != "" && b.Error == "" {
				b.Error = msg.Error
			}
		}

	case SnapshotMsg:
		if msg.Err != nil {
			m.PollError = msg.Err.Error()
		} else {
			m.PollError = ""
			m.Builds = make(map[string]*BuildState, len(msg.Builds))
			for i := range msg.Builds {
				b := msg.Builds[i]
				m.Builds[b.Provisioning] = &b
			}
		}
		if m.poller != nil {
			return m, m.pollCmd(m.PollInterval)
		}
	}

	return m, nil
}
