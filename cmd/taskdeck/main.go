package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"taskdeck/cli/internal/application"
	"taskdeck/cli/internal/command"
	"taskdeck/cli/internal/config"
	"taskdeck/cli/internal/global"
	"taskdeck/cli/internal/logging"
)

var version = "dev"

func main() {
	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, os.Stdout, cfg)
		},
		RunMigrateUp: runMigrateUp,
	})
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "taskdeck"}).Error("taskdeck failed", "err", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, out io.Writer, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: os.Stderr, Component: "taskdeck"})
	configDir, err := resolveConfigDir(cfg)
	if err != nil {
		return err
	}
	app, err := application.StartApplication(ctx, application.StartOptions{
		ConfigDir: configDir,
		DBDSN:     cfg.DBPath(configDir),
		LocalHost: cfg.LocalHost,
		LocalPort: cfg.LocalPort,
		Shell:     cfg.Shell,
		Logger:    logger,
		Signals:   []os.Signal{os.Interrupt, syscall.SIGTERM},
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "taskdeck %s listening on %s\n", version, app.LocalAPIBaseURL())
	return app.Run(ctx)
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	configDir, err := resolveConfigDir(cfg)
	if err != nil {
		return err
	}
	return application.MigrateUp(cfg.DBPath(configDir))
}

func resolveConfigDir(cfg config.Config) (string, error) {
	if cfg.ConfigDir != "" {
		return cfg.ConfigDir, nil
	}
	return global.DefaultConfigDir()
}
