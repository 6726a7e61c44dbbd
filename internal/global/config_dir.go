package global

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns ~/.config/taskdeck unless TASKDECK_CONFIG_DIR is set.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("TASKDECK_CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "taskdeck"), nil
}
