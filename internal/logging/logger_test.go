package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_UsesJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "debug", Writer: &buf, Component: "taskdeck"})
	lg.Debug("boot", "k", "v")

	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, `"level":"DEBUG"`) {
		t.Fatalf("expected DEBUG level, got %s", out)
	}
	if !strings.Contains(out, `"component":"taskdeck"`) {
		t.Fatalf("expected component field, got %s", out)
	}
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "warn", Writer: &buf})
	lg.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}
	lg.Warn("shown")
	if !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("expected warn record, got %s", buf.String())
	}
}

func TestComponent_TagsChildLogger(t *testing.T) {
	var buf bytes.Buffer
	lg := Component(NewLogger(Options{Writer: &buf}), "tasks")
	lg.Info("x")
	if !strings.Contains(buf.String(), `"component":"tasks"`) {
		t.Fatalf("expected component field, got %s", buf.String())
	}
	Component(nil, "noop").Info("dropped")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
