package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"taskdeck/cli/internal/config"
)

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "address to listen on (overrides TASKDECK_LOCAL_HOST)"},
		&cli.IntFlag{Name: "port", Usage: "port to listen on (overrides config.toml local_port)"},
		&cli.StringFlag{Name: "config-dir", Usage: "directory holding config.toml, repos.json and the database"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
	}
}

func BuildApp(deps Deps) *cli.App {
	serve := func(ctx *cli.Context) error {
		cfg := applyFlags(ctx, loadConfig(deps))
		return runServe(ctx.Context, deps, cfg)
	}
	return &cli.App{
		Name:   "taskdeck",
		Usage:  "run coding agents in isolated git worktrees",
		Flags:  serveFlags(),
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the local API server",
				Flags:  serveFlags(),
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "config-dir", Usage: "directory holding the database"},
						},
						Action: func(ctx *cli.Context) error {
							cfg := applyFlags(ctx, loadConfig(deps))
							return runMigrateUp(ctx.Context, deps, cfg)
						},
					},
				},
			},
		},
	}
}

// applyFlags lets explicitly set flags win over the environment.
func applyFlags(ctx *cli.Context, cfg config.Config) config.Config {
	if ctx.IsSet("host") {
		cfg.LocalHost = strings.TrimSpace(ctx.String("host"))
	}
	if ctx.IsSet("port") {
		cfg.LocalPort = ctx.Int("port")
	}
	if ctx.IsSet("config-dir") {
		cfg.ConfigDir = strings.TrimSpace(ctx.String("config-dir"))
	}
	if ctx.IsSet("log-level") {
		cfg.LogLevel = strings.TrimSpace(ctx.String("log-level"))
	}
	return cfg
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}
