package global

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const reposFileName = "repos.json"

// KnownRepo is a base repository the user selected before. It is re-registered on startup.
type KnownRepo struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ReposStore struct {
	dir string
}

func NewReposStore(dir string) *ReposStore {
	return &ReposStore{dir: dir}
}

func (s *ReposStore) ListRepos() ([]KnownRepo, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, reposFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []KnownRepo{}, nil
		}
		return nil, err
	}
	var list []KnownRepo
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddRepo records repo, refreshing UpdatedAt when the path is already known.
func (s *ReposStore) AddRepo(repo KnownRepo) error {
	repo.Path = filepath.Clean(strings.TrimSpace(repo.Path))
	if repo.Path == "." {
		return errors.New("repository path is required")
	}
	list, err := s.ListRepos()
	if err != nil {
		return err
	}
	repo.Name = strings.TrimSpace(repo.Name)
	now := time.Now().UTC()
	updated := false
	for i := range list {
		if list[i].Path == repo.Path {
			if repo.Name != "" {
				list[i].Name = repo.Name
			}
			list[i].UpdatedAt = now
			updated = true
			break
		}
	}
	if !updated {
		if repo.Name == "" {
			repo.Name = filepath.Base(repo.Path)
		}
		repo.UpdatedAt = now
		list = append(list, repo)
	}
	return s.save(list)
}

func (s *ReposStore) RemoveRepo(path string) error {
	list, err := s.ListRepos()
	if err != nil {
		return err
	}
	target := filepath.Clean(strings.TrimSpace(path))
	out := make([]KnownRepo, 0, len(list))
	for _, r := range list {
		if r.Path != target {
			out = append(out, r)
		}
	}
	return s.save(out)
}

func (s *ReposStore) save(list []KnownRepo) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeJSONAtomically(filepath.Join(s.dir, reposFileName), list)
}
