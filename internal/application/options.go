package application

import (
	"log/slog"
	"os"
)

// StartOptions configures one daemon instance. Zero values fall back to
// config.toml and built-in defaults.
type StartOptions struct {
	ConfigDir string
	DBDSN     string
	LocalHost string
	LocalPort int
	Shell     string
	Logger    *slog.Logger
	// Signals end Run when received. Tests leave it empty.
	Signals []os.Signal
}
