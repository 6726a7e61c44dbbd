package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskdeck/cli/internal/agent"
	"taskdeck/cli/internal/db"
	"taskdeck/cli/internal/diffwatch"
	"taskdeck/cli/internal/fsbrowser"
	"taskdeck/cli/internal/global"
	"taskdeck/cli/internal/lifecycle"
	"taskdeck/cli/internal/localapi"
	"taskdeck/cli/internal/logging"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/tasks"
	"taskdeck/cli/internal/taskstore"
	"taskdeck/cli/internal/vcs"

	"github.com/gofrs/flock"
)

const (
	lockFileName        = "taskdeck.lock"
	defaultHost         = "127.0.0.1"
	httpShutdownTimeout = 3 * time.Second
)

// ErrAlreadyRunning is returned when another daemon holds the config dir lock.
var ErrAlreadyRunning = errors.New("taskdeck already running")

type Application struct {
	localAPIBaseURL string
	dbDSN           string
	configDir       string
	tasks           *tasks.Manager
	runFn           func(context.Context) error
	shutdownFn      func(context.Context) error
}

// StartApplication wires the registry, stores and HTTP API, and binds the
// listener. Serving begins with Run.
func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	configDir := strings.TrimSpace(opts.ConfigDir)
	if configDir == "" {
		dir, err := global.DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(configDir, lockFileName)
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock held: %s)", ErrAlreadyRunning, lockPath)
	}

	var cleanups []func() error
	cleanups = append(cleanups, fileLock.Unlock)
	fail := func(err error) (*Application, error) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			_ = cleanups[i]()
		}
		return nil, err
	}

	cfg, err := global.NewConfigStore(configDir).LoadOrInit()
	if err != nil {
		return fail(err)
	}

	dsn := strings.TrimSpace(opts.DBDSN)
	if dsn == "" {
		dsn = filepath.Join(configDir, "taskdeck.db")
	}
	gdb, err := db.OpenWithMigrations(dsn)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, func() error { return db.Close(gdb) })

	store, err := taskstore.NewStore(gdb, logging.Component(logger, "taskstore"))
	if err != nil {
		return fail(err)
	}

	shell := strings.TrimSpace(opts.Shell)
	if shell == "" {
		shell = cfg.Defaults.Shell
	}
	hub := localapi.NewWSHub(logging.Component(logger, "ws"))
	watchLogger := logging.Component(logger, "diffwatch")
	mgr, err := tasks.NewManager(tasks.Options{
		VCS:    vcs.New(&vcs.ExecRunner{}, logging.Component(logger, "vcs")),
		Agents: agentFactory(cfg),
		Shells: tasks.NewShellFactory(shell),
		Watch: func(root string, onChange func()) (tasks.Closer, error) {
			w, err := diffwatch.Watch(root, diffwatch.DefaultDebounce, onChange, watchLogger)
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		Sink:         tasks.MultiSink{hub, store},
		History:      store,
		Logger:       logging.Component(logger, "tasks"),
		DefaultAgent: cfg.DefaultAgentKind(),
		PTYSize:      tasks.Size{Rows: cfg.Defaults.PTYRows, Cols: cfg.Defaults.PTYCols},
		ScreenSize:   tasks.Size{Rows: cfg.Defaults.ScreenRows, Cols: cfg.Defaults.ScreenCols},
	})
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, mgr.Close)

	repos := global.NewReposStore(configDir)
	restoreKnownRepos(ctx, mgr, repos, logger)

	server := localapi.NewServer(localapi.Deps{
		Tasks:   mgr,
		Repos:   repos,
		History: store,
		Dirs:    fsbrowser.NewBrowser(),
		Hub:     hub,
		Logger:  logging.Component(logger, "localapi"),
	})

	host := strings.TrimSpace(opts.LocalHost)
	if host == "" {
		host = defaultHost
	}
	port := opts.LocalPort
	if port <= 0 {
		port = cfg.LocalPort
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fail(err)
	}
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var closeOnce sync.Once
	var closeErr error
	closeAll := func() error {
		closeOnce.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				closeErr = errors.Join(closeErr, err)
			}
			_ = ln.Close()
			for i := len(cleanups) - 1; i >= 0; i-- {
				if err := cleanups[i](); err != nil {
					closeErr = errors.Join(closeErr, err)
				}
			}
		})
		return closeErr
	}

	lc := lifecycle.NewManager(logging.Component(logger, "lifecycle"))
	lc.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	lc.AddShutdown("close-runtime", func(context.Context) error {
		return closeAll()
	})

	app := &Application{
		localAPIBaseURL: "http://" + ln.Addr().String(),
		dbDSN:           dsn,
		configDir:       configDir,
		tasks:           mgr,
	}
	app.runFn = func(runCtx context.Context) error {
		logger.Info("local api listening", "url", app.localAPIBaseURL, "config_dir", configDir)
		return lc.StartAndWait(runCtx, opts.Signals...)
	}
	app.shutdownFn = func(context.Context) error {
		return closeAll()
	}
	return app, nil
}

// MigrateUp applies schema migrations to the database at dsn.
func MigrateUp(dsn string) error {
	gdb, err := db.OpenWithMigrations(dsn)
	if err != nil {
		return err
	}
	return db.Close(gdb)
}

func agentFactory(cfg global.GlobalConfig) tasks.AgentFactory {
	return func(kind status.AgentKind) (tasks.Agent, error) {
		ac := cfg.Agent(kind)
		a, err := agent.New(kind, agent.Options{Binary: ac.Binary, Args: ac.Args, Env: ac.Env})
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// restoreKnownRepos adopts the managed worktrees of every remembered repository.
func restoreKnownRepos(ctx context.Context, mgr *tasks.Manager, repos *global.ReposStore, logger *slog.Logger) {
	list, err := repos.ListRepos()
	if err != nil {
		logger.Warn("failed to read known repositories", "err", err)
		return
	}
	for _, repo := range list {
		restored, err := mgr.RegisterExisting(ctx, repo.Path)
		if err != nil {
			logger.Warn("failed to restore tasks", "repo", repo.Path, "err", err)
			continue
		}
		if len(restored) > 0 {
			logger.Info("restored tasks", "repo", repo.Path, "count", len(restored))
		}
	}
}

func (a *Application) LocalAPIBaseURL() string {
	if a == nil {
		return ""
	}
	return a.localAPIBaseURL
}

func (a *Application) DBDSN() string {
	if a == nil {
		return ""
	}
	return a.dbDSN
}

func (a *Application) ConfigDir() string {
	if a == nil {
		return ""
	}
	return a.configDir
}

// Tasks exposes the registry for in-process callers.
func (a *Application) Tasks() *tasks.Manager {
	if a == nil {
		return nil
	}
	return a.tasks
}

// Run serves until ctx ends, a configured signal arrives or the server fails,
// then releases every resource.
func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.runFn == nil {
		return nil
	}
	return a.runFn(ctx)
}

// Shutdown releases resources without waiting for Run. Safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil || a.shutdownFn == nil {
		return nil
	}
	return a.shutdownFn(ctx)
}
