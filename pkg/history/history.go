// Package history journals completed installs.
//
// Every install appends one [Record]. The journal feeds "deps history" and
// "deps lock", which reads the versions and sources actually installed
// instead of re-resolving them. Records live in a JSON Lines file by default
// or in a MongoDB collection shared between machines.
package history

import (
	"context"
	"time"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Record is one completed install or uninstall.
type Record struct {
	RunID       string                `json:"run_id" bson:"_id"`
	Time        time.Time             `json:"time" bson:"time"`
	Kind        source.Kind           `json:"kind" bson:"kind"`
	Environment deps.Environment      `json:"environment" bson:"environment"`
	Dir         string                `json:"dir,omitempty" bson:"dir,omitempty"` // Project directory
	Installed   []installer.Installed `json:"installed" bson:"installed"`
	Removed     []string              `json:"removed,omitempty" bson:"removed,omitempty"` // Uninstalled package names
	Failed      []string              `json:"failed,omitempty" bson:"failed,omitempty"`
	Conflicts   []string              `json:"conflicts,omitempty" bson:"conflicts,omitempty"`
	Sources     []string              `json:"sources,omitempty" bson:"sources,omitempty"`
	CacheHits   int                   `json:"cache_hits" bson:"cache_hits"`
	Duration    time.Duration         `json:"duration" bson:"duration"`
}

// FromResult converts an install result. at is the completion time.
func FromResult(res *installer.Result, dir string, at time.Time) Record {
	r := Record{
		RunID:       res.RunID,
		Time:        at.UTC(),
		Kind:        res.Kind,
		Environment: res.Environment,
		Dir:         dir,
		Installed:   res.Succeeded,
		Sources:     res.UsedSources,
		CacheHits:   res.CacheHits,
		Duration:    res.Duration,
	}
	for _, f := range res.Failed {
		r.Failed = append(r.Failed, f.Package)
	}
	for _, c := range res.Conflicts {
		r.Conflicts = append(r.Conflicts, c.Package+c.Spec)
	}
	return r
}

// Query selects records. Zero fields match everything.
type Query struct {
	Kind        source.Kind
	Environment deps.Environment
	Dir         string
	Since       time.Time
	Limit       int // Keep only the most recent Limit records
}

// Match reports whether r satisfies q, ignoring Limit.
func (q Query) Match(r Record) bool {
	switch {
	case q.Kind != "" && r.Kind != q.Kind:
		return false
	case q.Environment != "" && r.Environment != q.Environment:
		return false
	case q.Dir != "" && r.Dir != q.Dir:
		return false
	case !q.Since.IsZero() && r.Time.Before(q.Since):
		return false
	}
	return true
}

// Store persists records.
type Store interface {
	// Append adds r to the journal.
	Append(ctx context.Context, r Record) error
	// List returns the records matching q, oldest first.
	List(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// limit keeps the last n records of an oldest-first slice.
func limit(records []Record, n int) []Record {
	if n > 0 && len(records) > n {
		return records[len(records)-n:]
	}
	return records
}
