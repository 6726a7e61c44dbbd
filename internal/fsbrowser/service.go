package fsbrowser

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	defaultScanLimit = 50
	maxScanDepth     = 4
)

// Entry is one directory shown while picking a base repository.
type Entry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	IsRepo bool   `json:"isRepo"`
}

type Listing struct {
	Path    string  `json:"path"`
	Parent  string  `json:"parent,omitempty"`
	IsRepo  bool    `json:"isRepo"`
	Entries []Entry `json:"entries"`
}

// Browser lists directories and finds git checkouts below a base directory.
type Browser struct {
	home func() (string, error)
}

func NewBrowser() *Browser { return &Browser{home: os.UserHomeDir} }

// Resolve expands "~", makes path absolute and requires a directory.
// An empty path resolves to the home directory.
func (b *Browser) Resolve(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" || p == "~" || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		home, err := b.home()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", errors.New("path is not a directory")
	}
	return filepath.Clean(abs), nil
}

// List returns the visible subdirectories of path, sorted by name.
func (b *Browser) List(path string) (Listing, error) {
	resolved, err := b.Resolve(path)
	if err != nil {
		return Listing{}, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Listing{}, err
	}
	out := Listing{Path: resolved, IsRepo: isRepo(resolved), Entries: make([]Entry, 0, len(entries))}
	if parent := filepath.Dir(resolved); parent != resolved {
		out.Parent = parent
	}
	for _, entry := range entries {
		if !entry.IsDir() || hidden(entry.Name()) {
			continue
		}
		child := filepath.Join(resolved, entry.Name())
		out.Entries = append(out.Entries, Entry{Name: entry.Name(), Path: child, IsRepo: isRepo(child)})
	}
	sortEntries(out.Entries)
	return out, nil
}

// FindRepos walks base breadth-first and returns up to limit git checkouts.
// It does not descend into a repository once found.
func (b *Browser) FindRepos(base string, limit int) ([]Entry, error) {
	resolved, err := b.Resolve(base)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	type node struct {
		path  string
		depth int
	}
	queue := []node{{path: resolved}}
	out := make([]Entry, 0, limit)
	for len(queue) > 0 && len(out) < limit {
		cur := queue[0]
		queue = queue[1:]
		if isRepo(cur.path) {
			out = append(out, Entry{Name: filepath.Base(cur.path), Path: cur.path, IsRepo: true})
			continue
		}
		if cur.depth >= maxScanDepth {
			continue
		}
		entries, err := os.ReadDir(cur.path)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Type()&os.ModeSymlink != 0 || hidden(entry.Name()) {
				continue
			}
			queue = append(queue, node{path: filepath.Join(cur.path, entry.Name()), depth: cur.depth + 1})
		}
	}
	sortEntries(out)
	return out, nil
}

// isRepo reports a .git directory or, for linked worktrees, a .git file.
func isRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func sortEntries(items []Entry) {
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
}
