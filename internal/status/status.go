package status

import (
	"fmt"
	"strings"
)

// Status is the coarse state of a task as shown to clients.
type Status string

const (
	Stopped          Status = "STOPPED"
	Idle             Status = "IDLE"
	Working          Status = "WORKING"
	AwaitingApproval Status = "AWAITING_APPROVAL"
	Completed        Status = "COMPLETED"
	Failed           Status = "FAILED"
	Discarded        Status = "DISCARDED"
)

// Final reports whether background status updates must be ignored.
func (s Status) Final() bool {
	switch s {
	case Stopped, Discarded, Completed, Failed:
		return true
	default:
		return false
	}
}

// Live reports whether the status belongs to a running agent.
func (s Status) Live() bool {
	switch s {
	case Idle, Working, AwaitingApproval:
		return true
	default:
		return false
	}
}

// TerminalKind names which pty of a task a stream belongs to.
type TerminalKind string

const (
	TerminalAgent TerminalKind = "agent"
	TerminalShell TerminalKind = "shell"
)

func ParseTerminalKind(raw string) (TerminalKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "agent":
		return TerminalAgent, nil
	case "shell", "worktree":
		return TerminalShell, nil
	default:
		return "", fmt.Errorf("unknown terminal kind %q", raw)
	}
}

// AgentKind names one of the supported coding agent CLIs.
type AgentKind string

const (
	AgentCodex   AgentKind = "codex"
	AgentCopilot AgentKind = "copilot"
)

func ParseAgentKind(raw string) (AgentKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "codex":
		return AgentCodex, nil
	case "copilot", "copilot-cli":
		return AgentCopilot, nil
	default:
		return "", fmt.Errorf("unknown agent kind %q", raw)
	}
}

func (k AgentKind) Label() string {
	switch k {
	case AgentCodex:
		return "Codex"
	case AgentCopilot:
		return "Copilot CLI"
	default:
		return string(k)
	}
}
