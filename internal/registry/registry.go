package registry

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/talgya/war-room/internal/game"
)

//go:embed scenarios/*.yaml
var builtin embed.FS

// Registry indexes scenarios by code. Lookups are exact: the scenario a
// session names must already be resolved by whoever created it.
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]*Scenario
}

// New returns a registry preloaded with the built-in scenarios.
func New() (*Registry, error) {
	r := &Registry{scenarios: make(map[string]*Scenario)}
	if err := r.loadFS(builtin, "scenarios"); err != nil {
		return nil, fmt.Errorf("builtin scenarios: %w", err)
	}
	return r, nil
}

// Register adds or replaces a scenario.
func (r *Registry) Register(s *Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[s.Code] = s
}

// LoadDir parses every *.yaml / *.yml file in dir. A missing dir is not an error.
func (r *Registry) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Warn("scenario directory not found", "dir", dir)
		return nil
	}
	return r.loadFS(os.DirFS(dir), ".")
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		raw, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, e.Name())))
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}
		s, err := Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		r.Register(s)
		slog.Info("scenario loaded", "code", s.Code, "name", s.Name,
			"nations", len(s.Nations), "territories", len(s.Territories))
	}
	return nil
}

// Lookup finds a scenario by its code or its display name. Both must match
// exactly after trimming. When several scenarios share a display name the
// one with the lowest code wins.
func (r *Registry) Lookup(name string) (*Scenario, error) {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.scenarios[name]; ok {
		return s, nil
	}
	for _, s := range r.sorted() {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("scenario %q: %w", name, game.ErrNotFound)
}

// List returns every scenario ordered by code.
func (r *Registry) List() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted()
}

// sorted returns the scenarios ordered by code. Callers hold r.mu.
func (r *Registry) sorted() []*Scenario {
	out := make([]*Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
