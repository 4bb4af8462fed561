package deps

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/smoothdeps/pkg/graph"
	"github.com/matzehuels/smoothdeps/pkg/integrations"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

type mockFetcher struct {
	packages map[string]*Package
	fetchErr error
	calls    atomic.Int32
}

func (m *mockFetcher) Fetch(ctx context.Context, req Requirement, refresh bool) (*Package, error) {
	m.calls.Add(1)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if pkg, ok := m.packages[req.Name]; ok {
		return pkg, nil
	}
	return nil, errors.New("package not found")
}

func reqs(names ...string) []Requirement {
	out := make([]Requirement, len(names))
	for i, n := range names {
		out[i] = Requirement{Name: n}
	}
	return out
}

func resolve(t *testing.T, f Fetcher, roots []Requirement, opts Options) *graph.Graph {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, err := NewRegistry("test", source.KindPip, f).Resolve(ctx, roots, opts)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return g
}

func TestRegistryName(t *testing.T) {
	r := NewRegistry("my-registry", source.KindPip, &mockFetcher{})
	if got := r.Name(); got != "my-registry" {
		t.Errorf("Name() = %q, want %q", got, "my-registry")
	}
}

func TestRegistryResolveNoRoots(t *testing.T) {
	g := resolve(t, &mockFetcher{}, nil, Options{})
	if g.NodeCount() != 1 {
		t.Errorf("NodeCount() = %d, want 1", g.NodeCount())
	}
	if n, ok := g.Node(graph.RootID); !ok || !n.IsRoot() {
		t.Error("root node missing")
	}
}

func TestRegistryResolveWithDependencies(t *testing.T) {
	fetcher := &mockFetcher{
		packages: map[string]*Package{
			"app": {
				Name:    "app",
				Version: "1.0.0",
				Requirements: []Requirement{
					{Name: "dep-a", Spec: ">=2.0"},
					{Name: "dep-b"},
				},
			},
			"dep-a": {Name: "dep-a", Version: "2.1.0"},
			"dep-b": {Name: "dep-b", Version: "3.0.0"},
		},
	}
	g := resolve(t, fetcher, reqs("app"), Options{})

	if g.NodeCount() != 4 {
		t.Errorf("NodeCount() = %d, want 4", g.NodeCount())
	}
	if g.EdgeCount() != 3 {
		t.Errorf("EdgeCount() = %d, want 3", g.EdgeCount())
	}
	n, _ := g.Node("dep-a")
	if n.Version != "2.1.0" {
		t.Errorf("dep-a version = %q, want 2.1.0", n.Version)
	}
	in := g.IncomingEdges("dep-a")
	if len(in) != 1 || in[0].From != "app" || in[0].Constraint != ">=2.0" {
		t.Errorf("IncomingEdges(dep-a) = %+v", in)
	}
}

func TestRegistryResolveKeepsEveryConstraint(t *testing.T) {
	fetcher := &mockFetcher{
		packages: map[string]*Package{
			"a":    {Name: "a", Version: "1.0", Requirements: []Requirement{{Name: "pkgX", Spec: ">=2.0"}}},
			"b":    {Name: "b", Version: "1.0", Requirements: []Requirement{{Name: "PkgX", Spec: "<2.0"}}},
			"pkgX": {Name: "pkgx", Version: "2.0"},
			"PkgX": {Name: "pkgx", Version: "2.0"},
		},
	}
	g := resolve(t, fetcher, reqs("a", "b"), Options{})

	in := g.IncomingEdges("pkgx")
	if len(in) != 2 {
		t.Fatalf("IncomingEdges(pkgx) = %d edges, want 2", len(in))
	}
	got := map[string]string{}
	for _, e := range in {
		got[e.From] = e.Constraint
	}
	if got["a"] != ">=2.0" || got["b"] != "<2.0" {
		t.Errorf("constraints = %v", got)
	}
	if fetcher.calls.Load() != 3 {
		t.Errorf("fetch calls = %d, want 3 (pkgx once)", fetcher.calls.Load())
	}
}

func TestRegistryResolveCycle(t *testing.T) {
	fetcher := &mockFetcher{
		packages: map[string]*Package{
			"a": {Name: "a", Version: "1", Requirements: reqs("b")},
			"b": {Name: "b", Version: "1", Requirements: reqs("a")},
		},
	}
	g := resolve(t, fetcher, reqs("a"), Options{})
	if len(g.Cycles()) != 1 {
		t.Errorf("Cycles() = %v, want one cycle", g.Cycles())
	}
}

func TestRegistryResolveMaxDepth(t *testing.T) {
	packages := map[string]*Package{}
	for i := range 10 {
		name := fmt.Sprintf("p%d", i)
		packages[name] = &Package{Name: name, Version: "1", Requirements: reqs(fmt.Sprintf("p%d", i+1))}
	}
	g := resolve(t, &mockFetcher{packages: packages}, reqs("p0"), Options{MaxDepth: 3})

	for _, id := range []string{"p0", "p1", "p2"} {
		if n, _ := g.Node(id); n == nil || n.Version == "" {
			t.Errorf("%s should be fetched", id)
		}
	}
	if _, ok := g.Node("p3"); ok {
		t.Error("p3 is beyond MaxDepth and should not be reached")
	}
}

func TestRegistryResolveFetchError(t *testing.T) {
	g := resolve(t, &mockFetcher{fetchErr: errors.New("boom")}, reqs("missing"), Options{})
	n, ok := g.Node("missing")
	if !ok {
		t.Fatal("failed package should stay in the graph")
	}
	if n.Meta["error"] != "boom" {
		t.Errorf("error meta = %v", n.Meta["error"])
	}
}

func TestRegistryResolveRetriesWithoutSpec(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, req Requirement, refresh bool) (*Package, error) {
		if req.Spec != "" {
			return nil, fmt.Errorf("%w: %s", integrations.ErrNoMatchingVersion, req.Spec)
		}
		return &Package{Name: req.Name, Version: "1.0"}, nil
	})
	g := resolve(t, f, []Requirement{{Name: "x", Spec: ">=9"}}, Options{})
	if n, _ := g.Node("x"); n.Version != "1.0" {
		t.Errorf("version = %q, want 1.0", n.Version)
	}
}

func TestRegistryResolveCancelled(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, req Requirement, refresh bool) (*Package, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewRegistry("test", source.KindPip, f).Resolve(ctx, reqs("a", "b"), Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Resolve() error = %v, want deadline exceeded", err)
	}
}
