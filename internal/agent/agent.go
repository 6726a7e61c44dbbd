package agent

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"taskdeck/cli/internal/ptysession"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/terminal"
)

const (
	DefaultScreenRows = 40
	DefaultScreenCols = 120
)

// Options overrides how a variant is launched. Zero values keep the variant defaults.
type Options struct {
	Binary string
	Args   []string
	Env    map[string]string
}

type variant struct {
	binary      string
	defaultArgs []string
}

var variants = map[status.AgentKind]variant{
	status.AgentCodex:   {binary: "codex", defaultArgs: []string{"resume"}},
	status.AgentCopilot: {binary: "copilot"},
}

// Agent is one coding agent CLI bound to a task. The screen and detector are
// guarded by a single lock so a chunk is rendered and classified atomically.
type Agent struct {
	kind   status.AgentKind
	binary string
	args   []string
	env    map[string]string

	mu     sync.Mutex
	screen *terminal.Screen
	det    detector
}

func New(kind status.AgentKind, opts Options) (*Agent, error) {
	v, ok := variants[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported agent kind %q", kind)
	}
	a := &Agent{
		kind:   kind,
		binary: v.binary,
		args:   append([]string(nil), v.defaultArgs...),
		env:    map[string]string{},
		screen: terminal.NewScreen(DefaultScreenRows, DefaultScreenCols),
		det:    detector{now: time.Now},
	}
	if b := strings.TrimSpace(opts.Binary); b != "" {
		a.binary = b
	}
	if len(opts.Args) > 0 {
		a.args = append([]string(nil), opts.Args...)
	}
	for k, v := range opts.Env {
		a.env[k] = v
	}
	return a, nil
}

func (a *Agent) Kind() status.AgentKind {
	return a.kind
}

func (a *Agent) Label() string {
	return a.kind.Label()
}

// Reset discards the rendered screen and detector state.
func (a *Agent) Reset(rows, cols int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.screen = terminal.NewScreen(rows, cols)
	a.det.reset()
}

func (a *Agent) Resize(rows, cols int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.screen.Resize(rows, cols)
}

func (a *Agent) ScreenText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.screen.Text()
}

func (a *Agent) Observe(chunk []byte) (status.Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.screen.Write(chunk)
	return a.det.observe(a.screen.Text())
}

func (a *Agent) CheckIdle() (status.Status, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.det.idle()
}

// Command builds the child process for dir without starting it.
func (a *Agent) Command(dir string) *exec.Cmd {
	cmd := exec.Command(a.binary, a.args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), a.env)
	return cmd
}

// Start spawns the agent in dir on a pty of rows x cols.
func (a *Agent) Start(dir string, rows, cols int) (*ptysession.Session, error) {
	return ptysession.Start(a.Command(dir), rows, cols, a)
}

// mergeEnv applies overrides on top of base and forces a capable TERM.
func mergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides)+1)
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	merged["TERM"] = "xterm-256color"
	for k, v := range overrides {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
