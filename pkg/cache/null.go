package cache

import (
	"context"
	"path/filepath"

	"github.com/matzehuels/smoothdeps/pkg/source"
)

// NullStore is a no-op store that never keeps anything.
// It backs --no-cache.
type NullStore struct{}

// NewNullStore creates a null store.
func NewNullStore() Store {
	return NullStore{}
}

// Get always returns a miss.
func (NullStore) Get(context.Context, string) (*Entry, error) { return nil, ErrMiss }

// Lookup always returns a miss.
func (NullStore) Lookup(context.Context, string, source.Kind, func(string) bool) (*Entry, error) {
	return nil, ErrMiss
}

// Put returns an entry pointing at srcPath without copying it.
func (NullStore) Put(_ context.Context, a Artifact, srcPath string) (*Entry, error) {
	if a.Filename == "" {
		a.Filename = filepath.Base(srcPath)
	}
	return &Entry{
		Key:      a.Key(),
		Name:     a.Kind.Normalize(a.Name),
		Version:  a.Version,
		Kind:     a.Kind,
		Filename: a.Filename,
		Source:   a.Source,
		Requires: a.Requires,
		Path:     srcPath,
	}, nil
}

// Delete does nothing.
func (NullStore) Delete(context.Context, string) error { return nil }

// List returns nothing.
func (NullStore) List(context.Context) ([]Entry, error) { return nil, nil }

// Prune does nothing.
func (NullStore) Prune(context.Context, PruneOptions) (PruneResult, error) {
	return PruneResult{}, nil
}

// Clear does nothing.
func (NullStore) Clear(context.Context) error { return nil }

// Close does nothing.
func (NullStore) Close() error { return nil }

var _ Store = NullStore{}
