package conflict

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/smoothdeps/pkg/graph"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

type edge struct{ from, to, constraint string }

func buildGraph(t *testing.T, kind source.Kind, versions map[string]string, edges ...edge) *graph.Graph {
	t.Helper()
	g := graph.New(graph.Metadata{"kind": string(kind)})
	require.NoError(t, g.AddNode(graph.Node{ID: graph.RootID, Kind: graph.NodeKindRoot}))
	for _, e := range edges {
		g.EnsureNode(e.from)
		g.EnsureNode(e.to)
		require.NoError(t, g.AddEdge(graph.Edge{From: e.from, To: e.to, Constraint: e.constraint}))
	}
	for id, v := range versions {
		g.EnsureNode(id).Version = v
	}
	return g
}

func TestAnalyzeGraphDisjointRanges(t *testing.T) {
	g := buildGraph(t, source.KindPip, map[string]string{"a": "1.0", "b": "2.3"},
		edge{graph.RootID, "a", ""},
		edge{graph.RootID, "b", ""},
		edge{"a", "pkgx", ">=2.0"},
		edge{"b", "pkgx", "<2.0"},
	)

	r := AnalyzeGraph(g, "a, b")
	require.NotNil(t, r)
	assert.Equal(t, "a, b", r.RequestedSpec)
	assert.Equal(t, source.KindPip, r.Kind)
	assert.Equal(t, []string{"pkgx"}, r.Packages())

	byPkg := r.ByPackage("pkgx")
	require.Len(t, byPkg, 2)
	assert.Equal(t, "a", byPkg[0].RequiredBy)
	assert.Equal(t, "1.0", byPkg[0].Version)
	assert.Equal(t, ">=2.0", byPkg[0].Constraint)
	assert.Equal(t, "b", byPkg[1].RequiredBy)
	assert.Equal(t, "<2.0", byPkg[1].Constraint)

	assert.Equal(t, []string{
		"widen constraint on pkgx required by b (<2.0) to overlap >=2.0 required by a",
		"pin pkgx to version 2.0.0 (satisfies a)",
	}, r.Suggestions)
}

func TestAnalyzeGraphNoConflict(t *testing.T) {
	tests := []struct {
		name  string
		edges []edge
	}{
		{"overlapping", []edge{{"a", "x", ">=1.0"}, {"b", "x", "<3.0"}}},
		{"single requirement", []edge{{"a", "x", ">=2.0"}}},
		{"unconstrained", []edge{{"a", "x", ""}, {"b", "x", "<1.0"}}},
		{"unparseable ignored", []edge{{"a", "x", ">=>2"}, {"b", "x", "<1.0"}}},
		{"cycle", []edge{{"a", "b", ">=1"}, {"b", "a", ">=1"}, {"a", "x", "==1.0"}, {"b", "x", "~=1.0"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, source.KindPip, nil, tt.edges...)
			assert.Nil(t, AnalyzeGraph(g, ""))
		})
	}
}

func TestAnalyzeGraphThreeWay(t *testing.T) {
	g := buildGraph(t, source.KindPip, nil,
		edge{"a", "x", ">=1.0,<3.0"},
		edge{"b", "x", ">=2.0"},
		edge{"c", "x", "<2.0"},
	)

	r := AnalyzeGraph(g, "")
	require.NotNil(t, r)
	assert.Len(t, r.Conflicts, 3)
	assert.Equal(t, []string{
		"widen constraint on x required by c (<2.0) to overlap >=2.0 required by b",
		"pin x to version 2.0.0 (satisfies a, b)",
	}, r.Suggestions)
}

func TestAnalyzeGraphProjectConstraintWidened(t *testing.T) {
	g := buildGraph(t, source.KindNpm, nil,
		edge{graph.RootID, "react", "^18.2.0"},
		edge{"some-lib", "react", "^17.0.0"},
	)

	r := AnalyzeGraph(g, "react@^18.2.0")
	require.NotNil(t, r)
	assert.Equal(t, ProjectName, r.Conflicts[0].RequiredBy)
	assert.Contains(t, r.Suggestions,
		"widen constraint on react required by project (^18.2.0) to overlap ^17.0.0 required by some-lib")
}

func TestReportWriteFile(t *testing.T) {
	g := buildGraph(t, source.KindPip, nil, edge{"a", "pkgx", ">=2.0"}, edge{"b", "pkgx", "<2.0"})
	r := AnalyzeGraph(g, "a, b")
	require.NotNil(t, r)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, r.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "a, b", got["requested_spec"])
	assert.Len(t, got["conflicts"], 2)
	assert.Len(t, got["suggestions"], 2)
}

func TestHighlight(t *testing.T) {
	g := buildGraph(t, source.KindNpm, nil,
		edge{graph.RootID, "react", "^18.2.0"},
		edge{graph.RootID, "some-lib", "^1.0.0"},
		edge{"some-lib", "react", "^17.0.0"},
	)
	r := AnalyzeGraph(g, "")
	require.NotNil(t, r)

	opts := Highlight(r)
	assert.True(t, opts.Highlight["react"])
	assert.False(t, opts.Highlight["some-lib"])
	assert.True(t, opts.HighlightEdges[graph.EdgeKey(graph.RootID, "react")])
	assert.True(t, opts.HighlightEdges[graph.EdgeKey("some-lib", "react")])
	assert.False(t, opts.HighlightEdges[graph.EdgeKey(graph.RootID, "some-lib")])

	dot := DOT(g, r)
	assert.Contains(t, dot, `"some-lib" -> "react" [label="^17.0.0", color=red`)
	assert.Contains(t, dot, `"__project__" -> "some-lib" [label="^1.0.0"];`)

	assert.Empty(t, Highlight(nil).Highlight)
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}
