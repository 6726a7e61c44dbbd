package localapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"taskdeck/cli/internal/fsbrowser"
	"taskdeck/cli/internal/global"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/tasks"
	"taskdeck/cli/internal/taskstore"
	"taskdeck/cli/internal/vcs"
)

// TaskService is the task registry as seen by the HTTP layer.
type TaskService interface {
	List() []tasks.TaskSummary
	Get(taskID string) (tasks.TaskSummary, error)
	Create(ctx context.Context, req tasks.CreateRequest) (tasks.TaskSummary, error)
	Start(ctx context.Context, req tasks.StartRequest) (tasks.TaskSummary, error)
	Stop(ctx context.Context, taskID string) (tasks.TaskSummary, error)
	Discard(ctx context.Context, taskID string) (tasks.TaskSummary, error)
	TerminalWrite(ctx context.Context, taskID string, kind status.TerminalKind, data string) error
	TerminalResize(ctx context.Context, taskID string, kind status.TerminalKind, rows, cols int) error
	StartShell(ctx context.Context, taskID string, rows, cols int) error
	Diff(ctx context.Context, taskID string, req tasks.DiffRequest) ([]vcs.DiffFile, error)
	WatchDiff(taskID string) error
	UnwatchDiff(taskID string)
	Commit(ctx context.Context, taskID, message string, stageAll bool) error
	Push(ctx context.Context, taskID string, req tasks.PushRequest) error
	HasChanges(ctx context.Context, taskID string) (bool, error)
	SelectBaseRepo(ctx context.Context, path string) (tasks.BaseRepoInfo, error)
	ListBranches(ctx context.Context, repoPath string) ([]string, error)
	RegisterExisting(ctx context.Context, baseRepoPath string) ([]tasks.TaskSummary, error)
}

type ReposStore interface {
	ListRepos() ([]global.KnownRepo, error)
	AddRepo(repo global.KnownRepo) error
}

type EventHistory interface {
	Events(taskID string, limit int) ([]taskstore.Event, error)
}

// DirBrowser backs the directory picker used to choose a base repository.
type DirBrowser interface {
	List(path string) (fsbrowser.Listing, error)
	FindRepos(base string, limit int) ([]fsbrowser.Entry, error)
}

type Deps struct {
	Tasks   TaskService
	Repos   ReposStore
	History EventHistory
	Dirs    DirBrowser
	// Hub is shared with the registry as its sink. NewServer creates one when nil.
	Hub    *WSHub
	Logger *slog.Logger
}

type Server struct {
	deps   Deps
	mux    *http.ServeMux
	hub    *WSHub
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewWSHub(logger)
	}
	s := &Server{deps: deps, mux: http.NewServeMux(), hub: hub, logger: logger}
	s.registerTaskRoutes()
	s.registerRepoRoutes()
	s.registerFSRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Hub() *WSHub {
	return s.hub
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

// Describe maps a registry or vcs error to an HTTP status, an error code and a single message.
func Describe(err error) (int, string, string) {
	var vcsErr *vcs.Error
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return http.StatusNotFound, "TASK_NOT_FOUND", err.Error()
	case errors.Is(err, tasks.ErrAlreadyRunning):
		return http.StatusConflict, "TASK_ALREADY_RUNNING", err.Error()
	case errors.Is(err, tasks.ErrNotRunning):
		return http.StatusConflict, "TASK_NOT_RUNNING", err.Error()
	case errors.Is(err, tasks.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.As(err, &vcsErr):
		return http.StatusBadGateway, "VCS_FAILED", vcsErr.Error()
	case errors.Is(err, tasks.ErrIO):
		return http.StatusInternalServerError, "IO_FAILED", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", err.Error()
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode, msg := Describe(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "code", errCode, "err", err)
	}
	respondError(w, code, errCode, msg)
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func methodNotAllowed(w http.ResponseWriter) {
	respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}
