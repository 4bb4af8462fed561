// Package deps turns manifests and registry metadata into requirement
// graphs.
//
// # Overview
//
// A [Requirement] is a (name, specifier) pair. Requirements come from three
// places:
//
//   - the command line (deps install requests==2.31.0)
//   - environment manifests (requirements-dev.txt, package.json)
//   - published package metadata (requires_dist, packument dependencies)
//
// Each installer kind has a [Language] in a subpackage ([python],
// [javascript]) that knows its manifest files, its requirement syntax and
// how to fetch metadata from a mirror. Use [languages.For] to look one up
// by kind.
//
// # Environments
//
// [Environment] selects the manifest: prod, dev or test. A language maps
// each environment to candidate files, most specific first:
//
//	path, reqs, err := python.Language.LoadManifest(dir, deps.EnvDev)
//
// # Requirement Graphs
//
// [Registry.Resolve] crawls a [Fetcher] concurrently and returns a
// [graph.Graph] rooted at [graph.RootID]. Every requirement becomes an edge
// carrying its specifier, so two dependents that ask for incompatible
// ranges of the same package leave two edges into one node. Cycles are
// kept; pkg/conflict inspects the result.
//
//	f := python.Language.NewFetcher(src.URL, cache, nil)
//	g, err := deps.NewRegistry(src.Name, source.KindPip, f).Resolve(ctx, reqs, deps.Options{})
//
// [Options] bounds the walk:
//
//   - MaxDepth: Maximum dependency depth (default 20)
//   - MaxNodes: Maximum packages to fetch (default 2000)
//   - Refresh: Bypass metadata caches
//   - Logger: Receives fetch failures as warnings
//
// [python]: github.com/matzehuels/smoothdeps/pkg/deps/python
// [javascript]: github.com/matzehuels/smoothdeps/pkg/deps/javascript
// [languages.For]: github.com/matzehuels/smoothdeps/pkg/deps/languages.For
// [graph.Graph]: github.com/matzehuels/smoothdeps/pkg/graph.Graph
// [graph.RootID]: github.com/matzehuels/smoothdeps/pkg/graph.RootID
package deps
