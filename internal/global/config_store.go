package global

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"taskdeck/cli/internal/status"
)

const (
	configTOMLFileName = "config.toml"

	DefaultLocalPort  = 4680
	DefaultPTYRows    = 40
	DefaultPTYCols    = 80
	DefaultScreenRows = 40
	DefaultScreenCols = 120
)

type GlobalDefaults struct {
	Agent      string `json:"agent" toml:"agent"`
	PTYRows    int    `json:"pty_rows" toml:"pty_rows"`
	PTYCols    int    `json:"pty_cols" toml:"pty_cols"`
	ScreenRows int    `json:"screen_rows" toml:"screen_rows"`
	ScreenCols int    `json:"screen_cols" toml:"screen_cols"`
	Shell      string `json:"shell,omitempty" toml:"shell,omitempty"`
}

// AgentConfig overrides how one agent kind is launched. Empty fields keep the built-in defaults.
type AgentConfig struct {
	Binary string            `json:"binary,omitempty" toml:"binary,omitempty"`
	Args   []string          `json:"args,omitempty" toml:"args,omitempty"`
	Env    map[string]string `json:"env,omitempty" toml:"env,omitempty"`
}

type GlobalConfig struct {
	LocalPort int                    `json:"local_port" toml:"local_port"`
	Defaults  GlobalDefaults         `json:"defaults" toml:"defaults"`
	Agents    map[string]AgentConfig `json:"agents,omitempty" toml:"agents,omitempty"`
}

// Agent returns the launch overrides for kind.
func (c GlobalConfig) Agent(kind status.AgentKind) AgentConfig {
	return c.Agents[string(kind)]
}

// DefaultAgentKind parses Defaults.Agent, which normalizeConfig keeps valid.
func (c GlobalConfig) DefaultAgentKind() status.AgentKind {
	kind, err := status.ParseAgentKind(c.Defaults.Agent)
	if err != nil {
		return status.AgentCodex
	}
	return kind
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Dir() string {
	return s.dir
}

func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return normalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := normalizeConfig(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), normalizeConfig(cfg))
}

func normalizeConfig(cfg GlobalConfig) GlobalConfig {
	if cfg.LocalPort <= 0 {
		cfg.LocalPort = DefaultLocalPort
	}
	cfg.Defaults = normalizeDefaults(cfg.Defaults)
	cfg.Agents = normalizeAgents(cfg.Agents)
	return cfg
}

func normalizeDefaults(defaults GlobalDefaults) GlobalDefaults {
	agent := status.AgentCodex
	if kind, err := status.ParseAgentKind(defaults.Agent); err == nil {
		agent = kind
	}
	return GlobalDefaults{
		Agent:      string(agent),
		PTYRows:    positiveOr(defaults.PTYRows, DefaultPTYRows),
		PTYCols:    positiveOr(defaults.PTYCols, DefaultPTYCols),
		ScreenRows: positiveOr(defaults.ScreenRows, DefaultScreenRows),
		ScreenCols: positiveOr(defaults.ScreenCols, DefaultScreenCols),
		Shell:      strings.TrimSpace(defaults.Shell),
	}
}

// normalizeAgents keys entries by canonical agent kind and drops unknown kinds.
func normalizeAgents(in map[string]AgentConfig) map[string]AgentConfig {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]AgentConfig, len(in))
	for key, ac := range in {
		kind, err := status.ParseAgentKind(key)
		if err != nil {
			continue
		}
		ac.Binary = strings.TrimSpace(ac.Binary)
		out[string(kind)] = ac
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeJSONAtomically(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
