package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func startBuild(m *Model, prov, job string) {
	m.Update(BuildStartedMsg{Provisioning: prov, Job: job, Time: time.Now()})
}

func TestUpdate_BuildLifecycle(t *testing.T) {
	m := NewModel("dockerslaves")
	startBuild(m, "p1", "web")

	b, ok := m.Builds["p1"]
	if !ok {
		t.Fatal("build p1 should be tracked after BuildStartedMsg")
	}
	if b.Phase != "provisioning-remoting" {
		t.Errorf("Phase = %q, want provisioning-remoting", b.Phase)
	}
	if b.Label() != "web" {
		t.Errorf("Label() = %q before attach, want job name", b.Label())
	}

	m.Update(BuildAttachedMsg{Provisioning: "p1", Build: "web#3"})
	m.Update(PhaseMsg{Provisioning: "p1", Phase: "scm-running"})
	m.Update(ContainerMsg{Provisioning: "p1", Delta: 1})
	m.Update(ContainerMsg{Provisioning: "p1", Delta: 1})
	m.Update(ProcessExitedMsg{Provisioning: "p1", ExitCode: 2})

	if b.Label() != "web#3" {
		t.Errorf("Label() = %q, want web#3", b.Label())
	}
	if b.Phase != "scm-running" {
		t.Errorf("Phase = %q, want scm-running", b.Phase)
	}
	if b.Containers != 2 {
		t.Errorf("Containers = %d, want 2", b.Containers)
	}
	if b.LastExit == nil || *b.LastExit != 2 {
		t.Errorf("LastExit = %v, want 2", b.LastExit)
	}

	m.Update(ContainerMsg{Provisioning: "p1", Delta: -1})
	m.Update(ContainerMsg{Provisioning: "p1", Delta: -1})
	m.Update(ContainerMsg{Provisioning: "p1", Delta: -1})
	if b.Containers != 0 {
		t.Errorf("Containers = %d, should not drop below 0", b.Containers)
	}

	m.Update(BuildFinishedMsg{Provisioning: "p1"})
	if !b.Finished || b.Phase != "terminated" {
		t.Errorf("finished build: Finished=%v Phase=%q", b.Finished, b.Phase)
	}

	running, finished, failed := m.counts()
	if running != 0 || finished != 1 || failed != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/1/0", running, finished, failed)
	}
}

func TestUpdate_FailedBuild(t *testing.T) {
	m := NewModel("dockerslaves")
	startBuild(m, "p1", "web")
	startBuild(m, "p2", "api")

	m.Update(BuildFailedMsg{Provisioning: "p1", Error: "pull failed"})
	m.Update(BuildFinishedMsg{Provisioning: "p1", Error: "remove failed"})

	b := m.Builds["p1"]
	if !b.Failed {
		t.Error("build should be marked failed")
	}
	if b.Error != "pull failed" {
		t.Errorf("Error = %q, first error should be kept", b.Error)
	}

	running, finished, failed := m.counts()
	if running != 1 || finished != 0 || failed != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/0/1", running, finished, failed)
	}
}

func TestUpdate_UnknownProvisioningIgnored(t *testing.T) {
	m := NewModel("dockerslaves")
	m.Update(PhaseMsg{Provisioning: "nope", Phase: "build-running"})
	m.Update(BuildFinishedMsg{Provisioning: "nope"})

	if len(m.Builds) != 0 {
		t.Errorf("Builds = %d, messages for unknown builds should be ignored", len(m.Builds))
	}
}

func TestUpdate_LogLimit(t *testing.T) {
	m := NewModel("dockerslaves")
	m.LogLimit = 3
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		m.Update(LogMsg{Line: line})
	}

	if got := strings.Join(m.LogLines, ","); got != "c,d,e" {
		t.Errorf("LogLines = %s, want c,d,e", got)
	}
}

func TestUpdate_Keys(t *testing.T) {
	m := NewModel("dockerslaves")

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	if m.ShowLogs {
		t.Error("l should toggle logs off")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !m.Quitting {
		t.Error("q should set Quitting")
	}
	if cmd == nil {
		t.Error("q should return the quit command")
	}
}

func TestUpdate_DoneAndQuit(t *testing.T) {
	m := NewModel("dockerslaves")
	if _, cmd := m.Update(DoneMsg{}); cmd == nil || !m.Done {
		t.Error("DoneMsg should set Done and quit")
	}

	m = NewModel("dockerslaves")
	if _, cmd := m.Update(QuitMsg{}); cmd == nil || !m.Quitting {
		t.Error("QuitMsg should set Quitting and quit")
	}
	if m.View() != "" {
		t.Error("View should be empty after quit")
	}
}

func TestUpdate_Snapshot(t *testing.T) {
	calls := 0
	poll := func() ([]BuildState, error) {
		calls++
		return nil, nil
	}
	m := NewWatchModel("watch", poll, time.Second)
	startBuild(m, "stale", "old")

	_, cmd := m.Update(SnapshotMsg{Builds: []BuildState{
		{Provisioning: "p1", Job: "web", Phase: "build-running", Containers: 3},
		{Provisioning: "p2", Job: "api", Finished: true},
	}})
	if cmd == nil {
		t.Error("watch model should schedule the next poll")
	}
	if _, ok := m.Builds["stale"]; ok {
		t.Error("snapshot should replace previous builds")
	}
	if len(m.Builds) != 2 || m.Builds["p1"].Containers != 3 {
		t.Errorf("Builds = %+v", m.Builds)
	}

	m.Update(SnapshotMsg{Err: errors.New("database is locked")})
	if m.PollError != "database is locked" {
		t.Errorf("PollError = %q", m.PollError)
	}
	if len(m.Builds) != 2 {
		t.Error("a failed poll should keep the previous builds")
	}

	m.Update(SnapshotMsg{})
	if m.PollError != "" {
		t.Error("a successful poll should clear PollError")
	}
	if calls != 0 {
		t.Errorf("poller called %d times; Update should only schedule it", calls)
	}
}

func TestView_RendersBuilds(t *testing.T) {
	m := NewModel("dockerslaves")
	if !strings.Contains(m.View(), "No builds") {
		t.Error("empty view should say there are no builds")
	}

	startBuild(m, "01j9zzzzzzzzzzzz", "web")
	m.Update(BuildAttachedMsg{Provisioning: "01j9zzzzzzzzzzzz", Build: "web#7"})
	m.Update(BuildFailedMsg{Provisioning: "01j9zzzzzzzzzzzz", Error: "no such image"})
	m.Update(LogMsg{Line: "[web#7] pulling jenkins/agent"})

	view := m.View()
	for _, want := range []string{"dockerslaves", "web#7", "01j9zzzzzz", "no such image", "pulling jenkins/agent", "1 failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(time.Hour + 2*time.Minute + 3*time.Second); got != "01:02:03" {
		t.Errorf("formatDuration = %s, want 01:02:03", got)
	}
}
