package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// =============================================================================
// Wire Types
// =============================================================================

// Document is the serialized form of a Graph.
type Document struct {
	Nodes []DocNode `json:"nodes"`
	Edges []DocEdge `json:"edges"`
}

// DocNode is a serialized node.
type DocNode struct {
	ID      string         `json:"id"`
	Version string         `json:"version,omitempty"`
	Kind    string         `json:"kind,omitempty"` // "root" or empty
	Meta    map[string]any `json:"meta,omitempty"`
}

// DocEdge is a serialized edge.
type DocEdge struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Constraint string `json:"constraint,omitempty"`
}

// =============================================================================
// Graph Serialization API
// =============================================================================

// ToDocument converts g to its wire form. Nodes are sorted by ID.
func ToDocument(g *Graph) Document {
	doc := Document{Nodes: []DocNode{}, Edges: []DocEdge{}}
	for _, n := range g.Nodes() {
		dn := DocNode{ID: n.ID, Version: n.Version}
		if n.IsRoot() {
			dn.Kind = NodeKindRoot.String()
		}
		if len(n.Meta) > 0 {
			dn.Meta = n.Meta
		}
		doc.Nodes = append(doc.Nodes, dn)
	}
	for _, e := range g.Edges() {
		doc.Edges = append(doc.Edges, DocEdge{From: e.From, To: e.To, Constraint: e.Constraint})
	}
	return doc
}

// FromDocument builds a Graph from its wire form.
func FromDocument(doc Document) (*Graph, error) {
	g := New(nil)
	for _, n := range doc.Nodes {
		node := Node{ID: n.ID, Version: n.Version, Meta: n.Meta}
		if n.Kind == NodeKindRoot.String() {
			node.Kind = NodeKindRoot
		}
		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
	}
	for _, e := range doc.Edges {
		if err := g.AddEdge(Edge{From: e.From, To: e.To, Constraint: e.Constraint}); err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return g, nil
}

// MarshalGraph converts g to indented JSON.
func MarshalGraph(g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteGraph(g, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteGraph writes g as JSON to w.
func WriteGraph(g *Graph, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ToDocument(g)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// WriteGraphFile writes g to a JSON file.
func WriteGraphFile(g *Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return WriteGraph(g, f)
}

// ReadGraph decodes a JSON graph from r.
func ReadGraph(r io.Reader) (*Graph, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return FromDocument(doc)
}

// ReadGraphFile reads a JSON graph file.
func ReadGraphFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadGraph(f)
}
