package slave

import "fmt"

// Phase is the build-phase marker of a ContainersContext. Phases only move
// forward.
type Phase int

const (
	PhaseProvisioningRemoting Phase = iota
	PhaseAwaitingScm
	PhaseScmRunning
	PhaseBuildRunning
	PhaseTerminated
)

var phaseNames = map[Phase]string{
	PhaseProvisioningRemoting: "provisioning-remoting",
	PhaseAwaitingScm:          "awaiting-scm",
	PhaseScmRunning:           "scm-running",
	PhaseBuildRunning:         "build-running",
	PhaseTerminated:           "terminated",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ParsePhase parses a phase name as written by String.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// State is the state of a Provisioner.
type State int

const (
	StateIdle State = iota
	StateRemotingUp
	StateAwaitingBuildStart
	StateScmPhase
	StateBuildPhase
	StateCleaning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRemotingUp:
		return "RemotingUp"
	case StateAwaitingBuildStart:
		return "AwaitingBuildStart"
	case StateScmPhase:
		return "ScmPhase"
	case StateBuildPhase:
		return "BuildPhase"
	case StateCleaning:
		return "Cleaning"
	case StateTerminated:
		return "Terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Phase returns the context phase a provisioner in state s is in.
func (s State) Phase() Phase {
	switch s {
	case StateIdle:
		return PhaseProvisioningRemoting
	case StateRemotingUp, StateAwaitingBuildStart:
		return PhaseAwaitingScm
	case StateScmPhase:
		return PhaseScmRunning
	case StateBuildPhase:
		return PhaseBuildRunning
	}
	return PhaseTerminated
}

// Done reports whether cleanup has started or finished.
func (s State) Done() bool {
	return s == StateCleaning || s == StateTerminated
}
