package localapi

import (
	"net/http"
	"strings"

	"taskdeck/cli/internal/global"
	"taskdeck/cli/internal/tasks"
)

func (s *Server) registerRepoRoutes() {
	s.mux.HandleFunc("/api/v1/repos", s.handleReposList)
	s.mux.HandleFunc("/api/v1/repos/select", s.handleRepoSelect)
	s.mux.HandleFunc("/api/v1/repos/load-existing", s.handleRepoLoadExisting)
	s.mux.HandleFunc("/api/v1/repos/branches", s.handleRepoBranches)
}

type repoPathRequest struct {
	Path         string `json:"path"`
	BaseRepoPath string `json:"baseRepoPath"`
}

func (req repoPathRequest) path() string {
	if p := strings.TrimSpace(req.BaseRepoPath); p != "" {
		return p
	}
	return strings.TrimSpace(req.Path)
}

func (s *Server) handleReposList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.deps.Repos == nil {
		respondOK(w, []global.KnownRepo{})
		return
	}
	repos, err := s.deps.Repos.ListRepos()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "REPOS_LIST_FAILED", err.Error())
		return
	}
	respondOK(w, repos)
}

// handleRepoSelect validates the repository and remembers it for the next startup.
func (s *Server) handleRepoSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req repoPathRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	info, err := s.deps.Tasks.SelectBaseRepo(r.Context(), req.path())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if s.deps.Repos != nil {
		if err := s.deps.Repos.AddRepo(global.KnownRepo{Path: info.CanonicalPath}); err != nil {
			s.logger.Warn("failed to remember repository", "path", info.CanonicalPath, "err", err)
		}
	}
	respondOK(w, info)
}

func (s *Server) handleRepoLoadExisting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req repoPathRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	inserted, err := s.deps.Tasks.RegisterExisting(r.Context(), req.path())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, inserted)
}

func (s *Server) handleRepoBranches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		s.respondErr(w, r, &tasks.RequestError{Msg: "Repository path is required."})
		return
	}
	branches, err := s.deps.Tasks.ListBranches(r.Context(), path)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondOK(w, branches)
}
