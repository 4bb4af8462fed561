package conflict

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/graph"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// ProjectName is the dependent name used for requirements placed by the
// project itself (the manifest or the command line).
const ProjectName = "project"

// Conflict is one requirement on a package that cannot be satisfied
// together with the other requirements on the same package.
type Conflict struct {
	Package    string `json:"package"`
	RequiredBy string `json:"required_by"`
	Version    string `json:"version,omitempty"` // Version of the dependent, if known
	Constraint string `json:"constraint"`

	from string // node ID of the dependent
}

// Report lists the packages required at incompatible ranges. It is
// advisory: nothing is changed to resolve it.
type Report struct {
	RequestedSpec string      `json:"requested_spec"`
	Kind          source.Kind `json:"kind"`
	Conflicts     []Conflict  `json:"conflicts"`
	Suggestions   []string    `json:"suggestions"`
}

// Packages returns the conflicting package names in report order.
func (r *Report) Packages() []string {
	var out []string
	for _, c := range r.Conflicts {
		if !slices.Contains(out, c.Package) {
			out = append(out, c.Package)
		}
	}
	return out
}

// ByPackage returns the conflicting requirements on pkg.
func (r *Report) ByPackage(pkg string) []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if c.Package == pkg {
			out = append(out, c)
		}
	}
	return out
}

// WriteFile writes r as indented JSON.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// =============================================================================
// Graph analysis
// =============================================================================

// requirement is one parsed incoming edge.
type requirement struct {
	from    string
	by      string
	version string
	spec    string
	set     constraint.Set
}

// AnalyzeGraph reports every package whose incoming constraints have no
// version in common. Edges without a constraint, or with one that does not
// parse, are ignored. Each node is checked against its own incoming edges,
// so cycles are fine. It returns nil when nothing conflicts.
func AnalyzeGraph(g *graph.Graph, requested string) *Report {
	kind := graphKind(g)
	r := &Report{RequestedSpec: requested, Kind: kind}

	for _, n := range g.Nodes() {
		if n.IsRoot() {
			continue
		}
		reqs := requirementsOn(g, n.ID, kind)
		if len(reqs) < 2 || satisfiable(reqs) {
			continue
		}
		for _, q := range reqs {
			r.Conflicts = append(r.Conflicts, Conflict{
				Package:    n.ID,
				RequiredBy: q.by,
				Version:    q.version,
				Constraint: q.spec,
				from:       q.from,
			})
		}
		r.Suggestions = append(r.Suggestions, suggest(n, reqs)...)
	}

	if len(r.Conflicts) == 0 {
		return nil
	}
	return r
}

func graphKind(g *graph.Graph) source.Kind {
	if k, ok := g.Meta()["kind"].(string); ok {
		if kind, err := source.ParseKind(k); err == nil {
			return kind
		}
	}
	return source.KindPip
}

func requirementsOn(g *graph.Graph, id string, kind source.Kind) []requirement {
	var out []requirement
	seen := map[string]bool{}
	for _, e := range g.IncomingEdges(id) {
		if e.Constraint == "" || seen[e.From+"\x00"+e.Constraint] {
			continue
		}
		seen[e.From+"\x00"+e.Constraint] = true

		set, err := constraint.Parse(kind, e.Constraint)
		if err != nil || set.IsAny() {
			continue
		}
		q := requirement{from: e.From, by: e.From, spec: e.Constraint, set: set}
		if from, ok := g.Node(e.From); ok {
			if from.IsRoot() {
				q.by = ProjectName
			}
			q.version = from.Version
		}
		out = append(out, q)
	}
	return out
}

func satisfiable(reqs []requirement) bool {
	set := reqs[0].set
	for _, q := range reqs[1:] {
		set = set.Intersect(q.set)
	}
	return !set.Empty()
}

// =============================================================================
// Suggestions
// =============================================================================

func suggest(n *graph.Node, reqs []requirement) []string {
	var out []string
	for i, a := range reqs {
		for _, b := range reqs[i+1:] {
			if a.set.Overlaps(b.set) {
				continue
			}
			// The project's own constraint is the one the user can change.
			if a.from == graph.RootID {
				a, b = b, a
			}
			s := fmt.Sprintf("widen constraint on %s required by %s (%s) to overlap %s required by %s",
				n.ID, b.by, b.spec, a.spec, a.by)
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	if pin := pinSuggestion(n, reqs); pin != "" {
		out = append(out, pin)
	}
	return out
}

// pinSuggestion picks the candidate version satisfying the most
// requirements. Candidates are the finite bounds of every constraint plus
// the version already resolved for the package. Ties go to the higher
// version.
func pinSuggestion(n *graph.Node, reqs []requirement) string {
	var candidates []*semver.Version
	for _, q := range reqs {
		candidates = append(candidates, q.set.Bounds()...)
	}
	if n.Version != "" {
		if v, err := constraint.ParseVersion(n.Version); err == nil {
			candidates = append(candidates, v)
		}
	}

	var (
		best    *semver.Version
		bestSat []string
	)
	for _, v := range candidates {
		var sat []string
		for _, q := range reqs {
			if q.set.Match(v) && !slices.Contains(sat, q.by) {
				sat = append(sat, q.by)
			}
		}
		if len(sat) == 0 {
			continue
		}
		if c := cmp.Compare(len(sat), len(bestSat)); c > 0 || (c == 0 && best != nil && v.GreaterThan(best)) {
			best, bestSat = v, sat
		}
	}
	if best == nil {
		return ""
	}
	return fmt.Sprintf("pin %s to version %s (satisfies %s)", n.ID, best.String(), strings.Join(bestSat, ", "))
}
