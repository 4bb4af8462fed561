package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/fsutil"
)

// Registry holds the known sources.
//
// Reads are served from memory. Mutations take an advisory lock on
// "<path>.lock", re-read the file so edits made by other processes are not
// lost, apply the change and atomically replace the file. A Registry with an
// empty path lives in memory only.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	path    string
	sources []Source
}

type registryFile struct {
	Sources []Source `yaml:"sources"`
}

// NewRegistry creates an in-memory registry holding sources.
func NewRegistry(sources ...Source) (*Registry, error) {
	if err := checkAll(sources); err != nil {
		return nil, err
	}
	return &Registry{sources: slices.Clone(sources)}, nil
}

// Open loads the registry stored at path. A missing file yields the
// [Presets]; the file is only written on the first edit.
func Open(path string) (*Registry, error) {
	sources, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &Registry{path: path, sources: sources}, nil
}

// Path returns the backing file, or "" for an in-memory registry.
func (r *Registry) Path() string { return r.path }

// List returns the sources of kind sorted by priority, then name.
// An empty kind lists every source.
func (r *Registry) List(kind Kind) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Source
	for _, s := range r.sources {
		if kind == "" || s.Kind == kind {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, compareSources)
	return out
}

// Get returns the source named name for kind.
func (r *Registry) Get(name string, kind Kind) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := indexOf(r.sources, name, kind); i >= 0 {
		return r.sources[i], nil
	}
	return Source{}, notFound(name, kind)
}

// Add registers s. It fails with DUPLICATE_SOURCE if (name, kind) exists.
func (r *Registry) Add(s Source) error {
	s.URL = strings.TrimSpace(s.URL)
	if err := s.Validate(); err != nil {
		return err
	}
	return r.update(func(list []Source) ([]Source, error) {
		if indexOf(list, s.Name, s.Kind) >= 0 {
			return nil, errors.New(errors.ErrCodeDuplicateSource, "%s source %q already exists", s.Kind, s.Name)
		}
		return append(list, s), nil
	})
}

// Remove deletes the source named name for kind.
func (r *Registry) Remove(name string, kind Kind) error {
	return r.update(func(list []Source) ([]Source, error) {
		i := indexOf(list, name, kind)
		if i < 0 {
			return nil, notFound(name, kind)
		}
		return slices.Delete(list, i, i+1), nil
	})
}

// SetDisabled enables or disables automatic selection of a source.
func (r *Registry) SetDisabled(name string, kind Kind, disabled bool) error {
	return r.edit(name, kind, func(s *Source) { s.Disabled = disabled })
}

// SetPriority changes the rank of a source. Lower values are preferred.
func (r *Registry) SetPriority(name string, kind Kind, priority int) error {
	if priority < 0 {
		return errors.New(errors.ErrCodeInvalidSource, "priority must not be negative")
	}
	return r.edit(name, kind, func(s *Source) { s.Priority = priority })
}

func (r *Registry) edit(name string, kind Kind, fn func(*Source)) error {
	return r.update(func(list []Source) ([]Source, error) {
		i := indexOf(list, name, kind)
		if i < 0 {
			return nil, notFound(name, kind)
		}
		fn(&list[i])
		return list, nil
	})
}

func (r *Registry) update(fn func([]Source) ([]Source, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == "" {
		next, err := fn(slices.Clone(r.sources))
		if err != nil {
			return err
		}
		r.sources = next
		return nil
	}

	unlock, err := fsutil.Lock(context.Background(), r.path+".lock")
	if err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	defer unlock()

	current, err := readFile(r.path)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if err := writeFile(r.path, next); err != nil {
		return err
	}
	r.sources = next
	return nil
}

func readFile(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Presets(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse registry %s", path)
	}
	if err := checkAll(f.Sources); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "registry %s", path)
	}
	return f.Sources, nil
}

func writeFile(path string, sources []Source) error {
	sorted := slices.Clone(sources)
	slices.SortFunc(sorted, func(a, b Source) int {
		if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
			return c
		}
		return compareSources(a, b)
	})

	var buf bytes.Buffer
	buf.WriteString("# Package mirrors used by deps. Lower priority is preferred.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(registryFile{Sources: sorted}); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}

	return fsutil.WriteAtomic(path, buf.Bytes(), 0o644)
}

func checkAll(sources []Source) error {
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.Key()] {
			return errors.New(errors.ErrCodeDuplicateSource, "%s source %q listed twice", s.Kind, s.Name)
		}
		seen[s.Key()] = true
	}
	return nil
}

func indexOf(list []Source, name string, kind Kind) int {
	return slices.IndexFunc(list, func(s Source) bool { return s.Name == name && s.Kind == kind })
}

func compareSources(a, b Source) int {
	if a.Priority != b.Priority {
		return a.Priority - b.Priority
	}
	return strings.Compare(a.Name, b.Name)
}

func notFound(name string, kind Kind) error {
	return errors.New(errors.ErrCodeSourceNotFound, "no %s source named %q", kind, name)
}
