package conflict

import (
	"bufio"
	"regexp"
	"slices"
	"strings"

	"github.com/matzehuels/smoothdeps/pkg/deps/python"
	"github.com/matzehuels/smoothdeps/pkg/graph"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

var (
	// "    flask 2.0.0 depends on click>=8.0"
	pipDependsRE = regexp.MustCompile(`^(\S+) \(?([^\s)]+)\)? depends on (.+)$`)
	// "    The user requested pkgx<2.0" or "The user requested (constraint) pkgx<2.0"
	pipRequestedRE = regexp.MustCompile(`^The user requested (?:\(constraint\) )?(.+)$`)

	// `peer react@"^17.0.0" from some-lib@1.0.0`, `react@"^18.2.0" from the root project`
	npmFromRE  = regexp.MustCompile(`^(?:(?:peer|peerOptional|dev|optional) )?((?:@[^@\s/]+/)?[^@\s"]+)@"([^"]*)" from (.+)$`)
	npmFoundRE = regexp.MustCompile(`^Found: ((?:@[^@\s/]+/)?[^@\s]+)@(\S+)$`)
)

// parsedEdge is one requirement read from package manager output.
type parsedEdge struct {
	from, fromVersion string
	to, constraint    string
}

// Analyze inspects the conflict output captured during an install. It
// returns nil when the install saw no conflicts.
//
// When the output names the requirements involved, the report lists them
// with suggestions. Otherwise each conflicting request is listed as
// required by the project.
func Analyze(res *installer.Result) *Report {
	if res == nil || len(res.Conflicts) == 0 {
		return nil
	}

	var requested []string
	for _, c := range res.Conflicts {
		if s := c.Package + c.Spec; !slices.Contains(requested, s) {
			requested = append(requested, s)
		}
	}
	spec := strings.Join(requested, ", ")

	if r := AnalyzeGraph(OutputGraph(res.Kind, res.Conflicts), spec); r != nil {
		return r
	}

	r := &Report{RequestedSpec: spec, Kind: res.Kind}
	for _, c := range res.Conflicts {
		r.Conflicts = append(r.Conflicts, Conflict{
			Package:    res.Kind.Normalize(c.Package),
			RequiredBy: ProjectName,
			Constraint: c.Spec,
			from:       graph.RootID,
		})
	}
	r.Suggestions = []string{"run \"deps check-conflicts\" to walk the full requirement graph"}
	return r
}

// OutputGraph builds a requirement graph from conflict output. Requirements
// the output attributes to the user or the root project hang off
// [graph.RootID].
func OutputGraph(kind source.Kind, outputs []installer.ConflictOutput) *graph.Graph {
	g := graph.New(graph.Metadata{"kind": string(kind), "origin": "install"})
	_ = g.AddNode(graph.Node{ID: graph.RootID, Kind: graph.NodeKindRoot})

	seen := map[parsedEdge]bool{}
	for _, out := range outputs {
		var (
			edges []parsedEdge
			found map[string]string
		)
		if kind == source.KindNpm {
			edges, found = parseNpm(out.Output)
		} else {
			edges = parsePip(out.Output)
		}

		for _, e := range edges {
			e.from = normalizeID(kind, e.from)
			e.to = kind.Normalize(e.to)
			if seen[e] {
				continue
			}
			seen[e] = true

			from := g.EnsureNode(e.from)
			if e.fromVersion != "" {
				from.Version = e.fromVersion
			}
			g.EnsureNode(e.to)
			_ = g.AddEdge(graph.Edge{From: e.from, To: e.to, Constraint: e.constraint})
		}
		for name, version := range found {
			g.EnsureNode(kind.Normalize(name)).Version = version
		}
	}
	return g
}

func normalizeID(kind source.Kind, id string) string {
	if id == graph.RootID {
		return id
	}
	return kind.Normalize(id)
}

func parsePip(output string) []parsedEdge {
	var edges []parsedEdge
	scanLines(output, func(line string) {
		if m := pipRequestedRE.FindStringSubmatch(line); m != nil {
			if req, err := python.ParseRequirement(m[1]); err == nil {
				edges = append(edges, parsedEdge{from: graph.RootID, to: req.Name, constraint: req.Spec})
			}
			return
		}
		if m := pipDependsRE.FindStringSubmatch(line); m != nil {
			if req, err := python.ParseRequirement(m[3]); err == nil {
				edges = append(edges, parsedEdge{from: m[1], fromVersion: m[2], to: req.Name, constraint: req.Spec})
			}
		}
	})
	return edges
}

func parseNpm(output string) ([]parsedEdge, map[string]string) {
	var edges []parsedEdge
	found := map[string]string{}
	scanLines(output, func(line string) {
		for _, prefix := range []string{"npm ERR!", "npm error"} {
			line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
		if m := npmFoundRE.FindStringSubmatch(line); m != nil {
			found[m[1]] = m[2]
			return
		}
		m := npmFromRE.FindStringSubmatch(line)
		if m == nil {
			return
		}
		e := parsedEdge{from: graph.RootID, to: m[1], constraint: m[2]}
		if by := m[3]; by != "the root project" {
			e.from, e.fromVersion = splitNameVersion(by)
		}
		edges = append(edges, e)
	})
	return edges, found
}

// splitNameVersion splits "name@1.0.0" and "@scope/name@1.0.0".
func splitNameVersion(s string) (string, string) {
	if i := strings.LastIndex(s, "@"); i > 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

func scanLines(s string, fn func(line string)) {
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			fn(line)
		}
	}
}
