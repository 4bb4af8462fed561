// Package cache stores downloaded package artifacts by content key.
//
// # Keys
//
// An artifact is identified by (name, version, kind) only. The mirror that
// supplied it is recorded in [Entry.Source] but is not part of the key, so
// requests==2.31.0 fetched from pypi-tsinghua is a hit for a later install
// through pypi-official:
//
//	key := cache.Key("requests", "2.31.0", source.KindPip)
//
// # Stores
//
//   - [FileStore]: objects on disk under an advisory lock
//   - [NullStore]: backs --no-cache
//
// [Export], [Import] and [S3Remote] move entries between machines.
//
// # Integrity
//
// Every entry records the sha256 of its file. A [Store.Get] that finds a
// mismatch evicts the entry and reports a miss.
package cache

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// ErrMiss is returned when no usable entry exists.
var ErrMiss = errors.New("cache miss")

// Artifact describes a file about to be stored.
type Artifact struct {
	Name     string
	Version  string
	Kind     source.Kind
	Filename string // Stored file name; defaults to the base name of the source path
	Source   string // Mirror that supplied the file
	SHA256   string // Expected hex digest; empty skips the check
	Requires []Pin  // Dependencies installed with it
}

// Pin names one exact version of a package of the same kind.
type Pin struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Key returns the content key of p for kind.
func (p Pin) Key(kind source.Kind) string { return Key(p.Name, p.Version, kind) }

// Key returns the content key for a.
func (a Artifact) Key() string { return Key(a.Name, a.Version, a.Kind) }

// Entry is one cached artifact.
type Entry struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Kind        source.Kind `json:"kind"`
	Filename    string      `json:"filename"`
	Source      string      `json:"source,omitempty"`
	SHA256      string      `json:"sha256"`
	Size        int64       `json:"size"`
	CreatedAt   time.Time   `json:"created_at"`
	LastAccess  time.Time   `json:"last_access"`
	AccessCount int         `json:"access_count"`

	// Requires lists the dependency closure resolved when the artifact was
	// installed. Each pin is usually cached as an entry of its own.
	Requires []Pin `json:"requires,omitempty"`

	// Path is the absolute location of the file. It is filled in by the
	// store and not persisted.
	Path string `json:"-"`
}

// PruneOptions bounds the cache. Zero fields disable the bound.
type PruneOptions struct {
	MaxBytes int64
	MaxAge   time.Duration
}

// PruneResult lists what [Store.Prune] removed.
type PruneResult struct {
	Removed []Entry
	Freed   int64
}

// Store is an artifact cache.
type Store interface {
	// Get returns the entry for key, verifying its digest. It returns
	// [ErrMiss] when the key is absent or the stored file is corrupt.
	Get(ctx context.Context, key string) (*Entry, error)

	// Lookup returns the highest cached version of (name, kind) that match
	// accepts, or [ErrMiss].
	Lookup(ctx context.Context, name string, kind source.Kind, match func(version string) bool) (*Entry, error)

	// Put copies the file at srcPath into the cache. A key that is already
	// present keeps its existing file.
	Put(ctx context.Context, a Artifact, srcPath string) (*Entry, error)

	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Entry, error)
	Prune(ctx context.Context, opts PruneOptions) (PruneResult, error)
	Clear(ctx context.Context) error
	Close() error
}

// Stats summarizes a set of entries.
type Stats struct {
	Entries    int
	TotalBytes int64
	ByKind     map[source.Kind]int
	Oldest     time.Time
	Newest     time.Time
	Accesses   int
}

// Summarize computes [Stats] over entries.
func Summarize(entries []Entry) Stats {
	s := Stats{ByKind: map[source.Kind]int{}}
	for _, e := range entries {
		s.Entries++
		s.TotalBytes += e.Size
		s.ByKind[e.Kind]++
		s.Accesses += e.AccessCount
		if s.Oldest.IsZero() || e.CreatedAt.Before(s.Oldest) {
			s.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(s.Newest) {
			s.Newest = e.CreatedAt
		}
	}
	return s
}

// SortEntries orders entries by kind, name, then ascending version.
func SortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
			return c
		}
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return constraint.Compare(a.Version, b.Version)
	})
}
