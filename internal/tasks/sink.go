package tasks

import "taskdeck/cli/internal/status"

// MultiSink fans every notification out to each non-nil sink in order.
type MultiSink []Sink

func (m MultiSink) StatusChanged(summary TaskSummary) {
	for _, s := range m {
		if s != nil {
			s.StatusChanged(summary.clone())
		}
	}
}

func (m MultiSink) TerminalOutput(taskID, data string, kind status.TerminalKind) {
	for _, s := range m {
		if s != nil {
			s.TerminalOutput(taskID, data, kind)
		}
	}
}

func (m MultiSink) TerminalExit(taskID string, exitCode int, kind status.TerminalKind) {
	for _, s := range m {
		if s != nil {
			s.TerminalExit(taskID, exitCode, kind)
		}
	}
}

func (m MultiSink) DiffChanged(taskID string) {
	for _, s := range m {
		if s != nil {
			s.DiffChanged(taskID)
		}
	}
}

type nopSink struct{}

func (nopSink) StatusChanged(TaskSummary)                          {}
func (nopSink) TerminalOutput(string, string, status.TerminalKind) {}
func (nopSink) TerminalExit(string, int, status.TerminalKind)      {}
func (nopSink) DiffChanged(string)                                 {}
