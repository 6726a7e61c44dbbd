package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config is the environment layer. Zero LocalPort defers to config.toml.
type Config struct {
	LogLevel  string
	LocalHost string
	LocalPort int
	ConfigDir string
	DBDSN     string
	Shell     string
}

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

// DBPath returns the sqlite DSN, defaulting to taskdeck.db inside configDir.
func (c Config) DBPath(configDir string) string {
	if dsn := strings.TrimSpace(c.DBDSN); dsn != "" {
		return dsn
	}
	return filepath.Join(configDir, "taskdeck.db")
}

func loadFromEnv() Config {
	level := os.Getenv("TASKDECK_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	localHost := os.Getenv("TASKDECK_LOCAL_HOST")
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	return Config{
		LogLevel:  level,
		LocalHost: localHost,
		LocalPort: atoiOrDefault(os.Getenv("TASKDECK_LOCAL_PORT"), 0),
		ConfigDir: strings.TrimSpace(os.Getenv("TASKDECK_CONFIG_DIR")),
		DBDSN:     strings.TrimSpace(os.Getenv("TASKDECK_DB_DSN")),
		Shell:     strings.TrimSpace(os.Getenv("TASKDECK_SHELL")),
	}
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
