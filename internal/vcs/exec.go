package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git with args in dir and returns combined output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

type ExecRunner struct {
	Binary string
}

func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	bin := "git"
	if r != nil && strings.TrimSpace(r.Binary) != "" {
		bin = r.Binary
	}
	cmd := exec.CommandContext(ctx, bin, append([]string{"-c", "core.quotePath=false"}, args...)...)
	cmd.Dir = dir
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Error is a failed version control operation with a human-readable detail.
type Error struct {
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Op + " failed"
	}
	return e.Op + " failed: " + e.Detail
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Detail: err.Error()}
}
