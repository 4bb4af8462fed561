package graph

import (
	"errors"
	"slices"
	"strings"
)

var (
	// ErrInvalidNodeID is returned by [Graph.AddNode] when the node ID is empty.
	ErrInvalidNodeID = errors.New("node ID must not be empty")

	// ErrDuplicateNodeID is returned by [Graph.AddNode] when a node with the
	// same ID already exists.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrUnknownSourceNode is returned by [Graph.AddEdge] when the From node
	// does not exist.
	ErrUnknownSourceNode = errors.New("unknown source node")

	// ErrUnknownTargetNode is returned by [Graph.AddEdge] when the To node
	// does not exist.
	ErrUnknownTargetNode = errors.New("unknown target node")
)

// Metadata stores arbitrary key-value pairs attached to nodes, edges or the
// graph. Metadata maps are never nil after they are added to a Graph.
type Metadata map[string]any

// NodeKind distinguishes the requesting project from packages.
type NodeKind int

const (
	// NodeKindPackage is a package from an index.
	NodeKindPackage NodeKind = iota
	// NodeKindRoot is the environment manifest or the user's request.
	NodeKindRoot
)

func (k NodeKind) String() string {
	if k == NodeKindRoot {
		return "root"
	}
	return "package"
}

// RootID is the node ID used for the requesting project.
const RootID = "__project__"

// Node is one package in the graph.
type Node struct {
	ID      string   // Normalized package name
	Version string   // Resolved or installed version, if known
	Kind    NodeKind // Root or package
	Meta    Metadata // Never nil after AddNode
}

// IsRoot reports whether n is the requesting project.
func (n Node) IsRoot() bool { return n.Kind == NodeKindRoot }

// Label returns "id version", or the ID when no version is known.
func (n Node) Label() string {
	if n.Version == "" {
		return n.ID
	}
	return n.ID + " " + n.Version
}

// Edge records that From requires To under Constraint.
type Edge struct {
	From       string   // Dependent
	To         string   // Dependency
	Constraint string   // Specifier as written by the dependent, "" for any
	Meta       Metadata // Never nil after AddEdge
}

// Graph is a directed graph of requirements. The zero value is not usable;
// call [New].
type Graph struct {
	nodes    map[string]*Node
	edges    []Edge
	outgoing map[string][]int // node ID -> indices into edges
	incoming map[string][]int
	meta     Metadata
}

// New creates an empty graph with optional graph-level metadata.
func New(meta Metadata) *Graph {
	if meta == nil {
		meta = Metadata{}
	}
	return &Graph{
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]int),
		incoming: make(map[string][]int),
		meta:     meta,
	}
}

// Meta returns the graph-level metadata map.
func (g *Graph) Meta() Metadata { return g.meta }

// AddNode adds n. It fails on an empty or duplicate ID.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return ErrInvalidNodeID
	}
	if _, exists := g.nodes[n.ID]; exists {
		return ErrDuplicateNodeID
	}
	if n.Meta == nil {
		n.Meta = Metadata{}
	}
	g.nodes[n.ID] = &n
	return nil
}

// EnsureNode returns the node with id, adding a package node if missing.
func (g *Graph) EnsureNode(id string) *Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &Node{ID: id, Meta: Metadata{}}
	g.nodes[id] = n
	return n
}

// AddEdge adds e between two existing nodes. Parallel edges and cycles are
// allowed.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodes[e.From]; !ok {
		return ErrUnknownSourceNode
	}
	if _, ok := g.nodes[e.To]; !ok {
		return ErrUnknownTargetNode
	}
	if e.Meta == nil {
		e.Meta = Metadata{}
	}
	idx := len(g.edges)
	g.edges = append(g.edges, e)
	g.outgoing[e.From] = append(g.outgoing[e.From], idx)
	g.incoming[e.To] = append(g.incoming[e.To], idx)
	return nil
}

// Node returns the node with the given ID. The pointer refers to the node in
// the graph.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by ID.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b *Node) int { return strings.Compare(a.ID, b.ID) })
	return nodes
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge { return slices.Clone(g.edges) }

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Children returns the IDs id requires, in insertion order.
func (g *Graph) Children(id string) []string {
	var out []string
	for _, i := range g.outgoing[id] {
		out = append(out, g.edges[i].To)
	}
	return out
}

// Parents returns the IDs that require id, in insertion order.
func (g *Graph) Parents(id string) []string {
	var out []string
	for _, i := range g.incoming[id] {
		out = append(out, g.edges[i].From)
	}
	return out
}

// IncomingEdges returns every requirement placed on id.
func (g *Graph) IncomingEdges(id string) []Edge {
	out := make([]Edge, 0, len(g.incoming[id]))
	for _, i := range g.incoming[id] {
		out = append(out, g.edges[i])
	}
	return out
}

// OutgoingEdges returns every requirement id places on others.
func (g *Graph) OutgoingEdges(id string) []Edge {
	out := make([]Edge, 0, len(g.outgoing[id]))
	for _, i := range g.outgoing[id] {
		out = append(out, g.edges[i])
	}
	return out
}

// InDegree returns the number of incoming edges.
func (g *Graph) InDegree(id string) int { return len(g.incoming[id]) }

// OutDegree returns the number of outgoing edges.
func (g *Graph) OutDegree(id string) int { return len(g.outgoing[id]) }

// Roots returns nodes of kind root, sorted by ID.
func (g *Graph) Roots() []*Node {
	var out []*Node
	for _, n := range g.Nodes() {
		if n.IsRoot() {
			out = append(out, n)
		}
	}
	return out
}

// Cycles returns one representative cycle per strongly connected component
// that contains a cycle, found by depth-first search with white/gray/black
// colouring. Each cycle lists node IDs starting and ending at the same node.
func (g *Graph) Cycles() [][]string {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycles [][]string

	var dfs func(id string)
	dfs = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, child := range g.Children(id) {
			switch color[child] {
			case white:
				dfs(child)
			case gray:
				start := slices.Index(stack, child)
				cycle := append(slices.Clone(stack[start:]), child)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range g.Nodes() {
		if color[n.ID] == white {
			dfs(n.ID)
		}
	}
	return cycles
}

// NodeIDs extracts the ID from each node.
func NodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
