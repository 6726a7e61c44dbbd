package localapi

import (
	"net/http"
	"strconv"
	"strings"

	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/tasks"
)

func (s *Server) registerTaskRoutes() {
	s.mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/v1/tasks/", s.handleTaskActions)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		respondOK(w, s.deps.Tasks.List())
	case http.MethodPost:
		var req tasks.CreateRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		summary, err := s.deps.Tasks.Create(r.Context(), req)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		respondOK(w, summary)
	default:
		methodNotAllowed(w)
	}
}

type sizeRequest struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

type startRequest struct {
	Rows  int    `json:"rows"`
	Cols  int    `json:"cols"`
	Agent string `json:"agent"`
}

type writeRequest struct {
	Data string `json:"data"`
}

type commitRequest struct {
	Message  string `json:"message"`
	StageAll *bool  `json:"stageAll"`
}

type pushRequest struct {
	Remote      string `json:"remote"`
	Branch      string `json:"branch"`
	SetUpstream *bool  `json:"setUpstream"`
}

func (s *Server) handleTaskActions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/"), "/")
	taskID := parts[0]
	if taskID == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case len(parts) == 1:
		s.handleTaskGet(w, r, taskID)
	case len(parts) == 2 && action == "start":
		s.handleTaskStart(w, r, taskID)
	case len(parts) == 2 && action == "stop":
		s.handleTaskStop(w, r, taskID)
	case len(parts) == 2 && action == "discard":
		s.handleTaskDiscard(w, r, taskID)
	case len(parts) == 4 && action == "terminal":
		s.handleTaskTerminal(w, r, taskID, parts[2], parts[3])
	case len(parts) == 2 && action == "diff":
		s.handleTaskDiff(w, r, taskID)
	case len(parts) == 3 && action == "diff" && parts[2] == "watch":
		s.handleTaskDiffWatch(w, r, taskID)
	case len(parts) == 2 && action == "commit":
		s.handleTaskCommit(w, r, taskID)
	case len(parts) == 2 && action == "push":
		s.handleTaskPush(w, r, taskID)
	case len(parts) == 2 && action == "changes":
		s.handleTaskChanges(w, r, taskID)
	case len(parts) == 2 && action == "events":
		s.handleTaskEvents(w, r, taskID)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summary, err := s.deps.Tasks.Get(taskID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, summary)
}

func (s *Server) handleTaskStart(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	startReq := tasks.StartRequest{TaskID: taskID, Rows: req.Rows, Cols: req.Cols}
	if strings.TrimSpace(req.Agent) != "" {
		kind, err := status.ParseAgentKind(req.Agent)
		if err != nil {
			s.respondErr(w, r, &tasks.RequestError{Msg: err.Error()})
			return
		}
		startReq.AgentKind = kind
	}
	summary, err := s.deps.Tasks.Start(r.Context(), startReq)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, summary)
}

func (s *Server) handleTaskStop(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	summary, err := s.deps.Tasks.Stop(r.Context(), taskID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, summary)
}

func (s *Server) handleTaskDiscard(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	summary, err := s.deps.Tasks.Discard(r.Context(), taskID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, summary)
}

func (s *Server) handleTaskTerminal(w http.ResponseWriter, r *http.Request, taskID, rawKind, op string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	kind, err := status.ParseTerminalKind(rawKind)
	if err != nil {
		s.respondErr(w, r, &tasks.RequestError{Msg: err.Error()})
		return
	}
	switch op {
	case "write":
		var req writeRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		if err := s.deps.Tasks.TerminalWrite(r.Context(), taskID, kind, req.Data); err != nil {
			s.respondErr(w, r, err)
			return
		}
	case "resize":
		var req sizeRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		if err := s.deps.Tasks.TerminalResize(r.Context(), taskID, kind, req.Rows, req.Cols); err != nil {
			s.respondErr(w, r, err)
			return
		}
	case "start":
		if kind != status.TerminalShell {
			s.respondErr(w, r, &tasks.RequestError{Msg: "Only the shell terminal can be started here."})
			return
		}
		var req sizeRequest
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
		if err := s.deps.Tasks.StartShell(r.Context(), taskID, req.Rows, req.Cols); err != nil {
			s.respondErr(w, r, err)
			return
		}
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	respondOK(w, map[string]any{"taskId": taskID, "kind": kind})
}

func (s *Server) handleTaskDiff(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	req := tasks.DiffRequest{Mode: tasks.DiffMode(strings.TrimSpace(q.Get("mode")))}
	if raw := strings.TrimSpace(q.Get("ignoreWhitespace")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondErr(w, r, &tasks.RequestError{Msg: "ignoreWhitespace must be a boolean."})
			return
		}
		req.IgnoreWhitespace = v
	}
	files, err := s.deps.Tasks.Diff(r.Context(), taskID, req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, map[string]any{"taskId": taskID, "files": files})
}

func (s *Server) handleTaskDiffWatch(w http.ResponseWriter, r *http.Request, taskID string) {
	switch r.Method {
	case http.MethodPost:
		if err := s.deps.Tasks.WatchDiff(taskID); err != nil {
			s.respondErr(w, r, err)
			return
		}
		respondOK(w, map[string]any{"taskId": taskID, "watching": true})
	case http.MethodDelete:
		s.deps.Tasks.UnwatchDiff(taskID)
		respondOK(w, map[string]any{"taskId": taskID, "watching": false})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTaskCommit(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req commitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	stageAll := true
	if req.StageAll != nil {
		stageAll = *req.StageAll
	}
	if err := s.deps.Tasks.Commit(r.Context(), taskID, req.Message, stageAll); err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, map[string]any{"taskId": taskID})
}

func (s *Server) handleTaskPush(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req pushRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	err := s.deps.Tasks.Push(r.Context(), taskID, tasks.PushRequest{
		Remote:      req.Remote,
		Branch:      req.Branch,
		SetUpstream: req.SetUpstream,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, map[string]any{"taskId": taskID})
}

func (s *Server) handleTaskChanges(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	changed, err := s.deps.Tasks.HasChanges(r.Context(), taskID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, map[string]any{"taskId": taskID, "hasChanges": changed})
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.deps.History == nil {
		respondError(w, http.StatusNotImplemented, "HISTORY_UNAVAILABLE", "task history is not enabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.deps.History.Events(taskID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "HISTORY_LOAD_FAILED", err.Error())
		return
	}
	respondOK(w, events)
}
