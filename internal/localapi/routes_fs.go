package localapi

import (
	"net/http"
	"strconv"
)

func (s *Server) registerFSRoutes() {
	s.mux.HandleFunc("/api/v1/fs/list", s.handleFSList)
	s.mux.HandleFunc("/api/v1/fs/repos", s.handleFSRepos)
}

func (s *Server) handleFSList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.deps.Dirs == nil {
		respondError(w, http.StatusNotImplemented, "FS_UNAVAILABLE", "directory browsing is not available")
		return
	}
	listing, err := s.deps.Dirs.List(r.URL.Query().Get("path"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}
	respondOK(w, listing)
}

func (s *Server) handleFSRepos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.deps.Dirs == nil {
		respondError(w, http.StatusNotImplemented, "FS_UNAVAILABLE", "directory browsing is not available")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	repos, err := s.deps.Dirs.FindRepos(r.URL.Query().Get("base"), limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}
	respondOK(w, repos)
}
