package deps

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/matzehuels/smoothdeps/pkg/graph"
	"github.com/matzehuels/smoothdeps/pkg/integrations"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

const workers = 8

// Registry builds requirement graphs by crawling a [Fetcher] concurrently.
type Registry struct {
	name    string
	kind    source.Kind
	fetcher Fetcher
}

// NewRegistry creates a Registry for kind that crawls with fetcher.
func NewRegistry(name string, kind source.Kind, fetcher Fetcher) *Registry {
	return &Registry{name: name, kind: kind, fetcher: fetcher}
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Resolve fetches every root requirement and its transitive requirements.
//
// The result has a root node ([graph.RootID]) with one edge per root
// requirement, one node per package (keyed by normalized name) and one edge
// per requirement carrying the specifier as written. A package is fetched
// once, for the first requirement that reaches it; every later requirement
// still adds its edge, so incompatible ranges remain visible. Cycles are
// kept. Packages that fail to fetch stay in the graph with an "error"
// metadata entry.
func (r *Registry) Resolve(ctx context.Context, roots []Requirement, opts Options) (*graph.Graph, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &crawler{
		ctx:     ctx,
		kind:    r.kind,
		opts:    opts.WithDefaults(),
		fetch:   r.fetcher.Fetch,
		g:       graph.New(graph.Metadata{"kind": string(r.kind), "registry": r.name}),
		visited: make(map[string]bool),
		jobs:    make(chan job, workers*2),
		results: make(chan result, workers*2),
	}
	g, err := c.run(roots)
	cancel()
	c.wg.Wait()
	return g, err
}

type crawler struct {
	ctx   context.Context
	kind  source.Kind
	opts  Options
	fetch func(context.Context, Requirement, bool) (*Package, error)

	g *graph.Graph // touched only by the collecting goroutine

	jobs    chan job
	results chan result
	wg      sync.WaitGroup

	mu        sync.Mutex
	visited   map[string]bool
	pending   int64
	nodeCount int32
}

type job struct {
	id    string
	req   Requirement
	depth int
}

type result struct {
	job
	pkg *Package
	err error
}

func (c *crawler) run(roots []Requirement) (*graph.Graph, error) {
	_ = c.g.AddNode(graph.Node{ID: graph.RootID, Kind: graph.NodeKindRoot})
	if len(roots) == 0 {
		return c.g, nil
	}

	for range workers {
		c.wg.Add(1)
		go c.worker()
	}

	for _, req := range roots {
		id := c.kind.Normalize(req.Name)
		c.g.EnsureNode(id)
		_ = c.g.AddEdge(graph.Edge{From: graph.RootID, To: id, Constraint: req.Spec})
		c.enqueue(job{id: id, req: req, depth: 1})
	}

	if err := c.collect(); err != nil {
		return nil, err
	}
	return c.g, nil
}

func (c *crawler) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case j := <-c.jobs:
			pkg, err := c.fetch(c.ctx, j.req, c.opts.Refresh)
			if errors.Is(err, integrations.ErrNoMatchingVersion) && j.req.Spec != "" {
				// Still record the package; its edges show what went wrong.
				loose := j.req
				loose.Spec = ""
				pkg, err = c.fetch(c.ctx, loose, c.opts.Refresh)
			}
			select {
			case c.results <- result{job: j, pkg: pkg, err: err}:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *crawler) enqueue(j job) bool {
	c.mu.Lock()
	if c.visited[j.id] {
		c.mu.Unlock()
		return false
	}
	c.visited[j.id] = true
	c.mu.Unlock()

	atomic.AddInt64(&c.pending, 1)

	go func() {
		select {
		case c.jobs <- j:
		case <-c.ctx.Done():
		}
	}()
	return true
}

func (c *crawler) collect() error {
	for {
		select {
		case r := <-c.results:
			c.handle(r)
			if atomic.AddInt64(&c.pending, -1) == 0 {
				return nil
			}
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *crawler) handle(r result) {
	node := c.g.EnsureNode(r.id)
	if r.err != nil {
		c.opts.Logger.Warn("fetch failed", "package", r.req.Name, "err", r.err)
		node.Meta["error"] = r.err.Error()
		return
	}

	atomic.AddInt32(&c.nodeCount, 1)
	node.Version = r.pkg.Version
	if r.pkg.Summary != "" {
		node.Meta["summary"] = r.pkg.Summary
	}
	c.enqueueDeps(r)
}

func (c *crawler) enqueueDeps(r result) {
	if r.depth >= c.opts.MaxDepth || len(r.pkg.Requirements) == 0 {
		return
	}

	next := r.depth + 1
	count := atomic.LoadInt32(&c.nodeCount)

	for _, req := range r.pkg.Requirements {
		id := c.kind.Normalize(req.Name)
		c.g.EnsureNode(id)
		_ = c.g.AddEdge(graph.Edge{From: r.id, To: id, Constraint: req.Spec})

		if int(count) < c.opts.MaxNodes {
			c.enqueue(job{id: id, req: req, depth: next})
		}
	}
}
