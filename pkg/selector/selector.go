// Package selector picks the mirror an install should use.
//
// Ranking reads the health [health.Map] handed to [New]; the selector keeps
// no health state of its own. Eligible sources are those that are enabled
// and not DOWN, ordered by priority, then by last probe latency (unknown
// latency last), then by name.
//
// The selector degrades instead of failing: when every source is DOWN it
// still returns the preferred one, with a warning, because the install may
// succeed from cache or the health data may be wrong.
package selector

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// ErrNoCandidates is returned by [Selector.Next] when every source of the
// kind has been tried.
var ErrNoCandidates error = errors.New(errors.ErrCodeAllSourcesExhausted, "no untried sources left")

// Sources is the registry surface the selector reads.
type Sources interface {
	List(kind source.Kind) []source.Source
	Get(name string, kind source.Kind) (source.Source, error)
}

// Freshener refreshes health data on demand. [health.Prober] implements it.
type Freshener interface {
	EnsureFresh(ctx context.Context, kind source.Kind) (bool, error)
}

// WarningKind classifies a selection warning.
type WarningKind string

const (
	// WarnAllSourcesDown means every source was DOWN and the preferred one
	// was returned anyway.
	WarnAllSourcesDown WarningKind = "ALL_SOURCES_DOWN"
	// WarnOverrideDown means the explicitly requested source is DOWN.
	WarnOverrideDown WarningKind = "OVERRIDE_DOWN"
	// WarnStaleHealth means refreshing health data failed and older data was used.
	WarnStaleHealth WarningKind = "STALE_HEALTH"
)

// Warning is a non-fatal remark attached to a [Selection].
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

func (w Warning) String() string { return w.Message }

// Selection is the outcome of [Selector.Select].
type Selection struct {
	Source   source.Source `json:"source"`
	Status   health.Status `json:"status"`
	Override bool          `json:"override,omitempty"`
	Warnings []Warning     `json:"warnings,omitempty"`
}

// HasWarning reports whether s carries a warning of kind k.
func (s Selection) HasWarning(k WarningKind) bool {
	return slices.ContainsFunc(s.Warnings, func(w Warning) bool { return w.Kind == k })
}

// Selector ranks sources of one registry against one health map.
type Selector struct {
	sources Sources
	health  *health.Map
	fresh   Freshener
	logger  *log.Logger
}

// New creates a selector. fresh may be nil, in which case health data is
// used as is.
func New(sources Sources, m *health.Map, fresh Freshener, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.Default()
	}
	return &Selector{sources: sources, health: m, fresh: fresh, logger: logger}
}

// Select returns the source to use for kind.
//
// A non-empty override wins regardless of health; if it is DOWN a warning is
// logged and attached. Otherwise stale health data is refreshed first and the
// best eligible source is returned.
func (s *Selector) Select(ctx context.Context, kind source.Kind, override string) (Selection, error) {
	if !kind.Valid() {
		return Selection{}, errors.New(errors.ErrCodeInvalidInput, "unknown installer kind %q", kind)
	}

	if override != "" {
		src, err := s.sources.Get(override, kind)
		if err != nil {
			return Selection{}, err
		}
		sel := Selection{Source: src, Status: s.health.Status(src.Key()), Override: true}
		if sel.Status == health.StatusDown {
			w := Warning{WarnOverrideDown, fmt.Sprintf("requested source %s is DOWN; using it anyway", src.Name)}
			sel.Warnings = append(sel.Warnings, w)
			s.logger.Warn(w.Message, "source", src.Name)
		}
		return sel, nil
	}

	var warnings []Warning
	if s.fresh != nil {
		if _, err := s.fresh.EnsureFresh(ctx, kind); err != nil {
			if ctx.Err() != nil {
				return Selection{}, ctx.Err()
			}
			warnings = append(warnings, Warning{WarnStaleHealth, fmt.Sprintf("health refresh failed: %v", err)})
		}
	}

	ranked := s.Candidates(kind)
	if len(ranked) == 0 {
		return Selection{}, errors.New(errors.ErrCodeSourceNotFound, "no enabled %s sources", kind)
	}

	best := ranked[0]
	sel := Selection{Source: best.Source, Status: best.Status, Warnings: warnings}
	if best.Status == health.StatusDown {
		// Candidates puts DOWN sources last, so the head is DOWN only when
		// all of them are. Fall back to plain priority order.
		sel.Source = s.byPriority(kind)[0]
		sel.Status = health.StatusDown
		w := Warning{WarnAllSourcesDown, fmt.Sprintf("all %s sources are DOWN; trying %s anyway", kind, sel.Source.Name)}
		sel.Warnings = append(sel.Warnings, w)
		s.logger.Warn(w.Message)
	}
	return sel, nil
}

// Next returns the best source of kind whose key is not in tried. Sources
// that are not DOWN come first; a DOWN source is returned only when every
// untried source is DOWN. [ErrNoCandidates] means everything was tried.
func (s *Selector) Next(kind source.Kind, tried map[string]bool) (source.Source, error) {
	for _, c := range s.Candidates(kind) {
		if !tried[c.Source.Key()] {
			return c.Source, nil
		}
	}
	return source.Source{}, ErrNoCandidates
}

// Candidate is one ranked source with the health it was ranked by.
type Candidate struct {
	Source  source.Source `json:"source"`
	Status  health.Status `json:"status"`
	Latency *int64        `json:"latency_ms,omitempty"`
}

// Candidates returns every enabled source of kind in selection order:
// sources that are not DOWN ranked by priority, latency and name, then DOWN
// sources by priority and name.
func (s *Selector) Candidates(kind source.Kind) []Candidate {
	snap := s.health.Snapshot()
	var out []Candidate
	for _, src := range s.sources.List(kind) {
		if src.Disabled {
			continue
		}
		rec := snap[src.Key()]
		out = append(out, Candidate{Source: src, Status: rec.Status, Latency: rec.LatencyMS})
	}
	slices.SortStableFunc(out, compareCandidates)
	return out
}

func compareCandidates(a, b Candidate) int {
	aDown, bDown := a.Status == health.StatusDown, b.Status == health.StatusDown
	if aDown != bDown {
		if aDown {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(a.Source.Priority, b.Source.Priority); c != 0 {
		return c
	}
	if !aDown {
		if c := cmp.Compare(latencyOrMax(a.Latency), latencyOrMax(b.Latency)); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Source.Name, b.Source.Name)
}

func latencyOrMax(ms *int64) int64 {
	if ms == nil {
		return math.MaxInt64
	}
	return *ms
}

func (s *Selector) byPriority(kind source.Kind) []source.Source {
	var out []source.Source
	for _, src := range s.sources.List(kind) {
		if !src.Disabled {
			out = append(out, src)
		}
	}
	return out
}
