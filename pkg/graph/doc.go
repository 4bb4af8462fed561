// Package graph provides the directed requirement graph used for conflict
// analysis.
//
// Nodes are packages keyed by normalized name. An edge From -> To records
// that From requires To under a version constraint, stored verbatim in
// [Edge.Constraint]. Unlike a layered layout graph, this one tolerates
// cycles: real dependency trees contain them (a plugin requiring its host
// which lists the plugin as an extra), and conflict detection only needs the
// incoming edges of each node.
//
// # Basic Usage
//
//	g := graph.New(nil)
//	g.AddNode(graph.Node{ID: "app", Kind: graph.NodeKindRoot})
//	g.AddNode(graph.Node{ID: "pkgx"})
//	g.AddEdge(graph.Edge{From: "app", To: "pkgx", Constraint: ">=2.0"})
//
// [Graph.IncomingEdges] returns every requirement placed on a package, which
// is what the conflict analyzer intersects.
//
// # Serialization
//
// [MarshalGraph] and [ReadGraph] use a node-link JSON format:
//
//	{
//	  "nodes": [{"id": "app", "kind": "root"}, {"id": "pkgx", "version": "2.1.0"}],
//	  "edges": [{"from": "app", "to": "pkgx", "constraint": ">=2.0"}]
//	}
//
// [ToDOT] and [RenderSVG] draw the graph with Graphviz, highlighting the
// nodes and edges that take part in a conflict.
//
// # Concurrency
//
// A Graph is not safe for concurrent writes.
package graph
