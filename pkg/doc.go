// Package pkg provides the libraries behind the deps package source manager.
//
// # Overview
//
// deps installs pip and npm packages through a ranked set of mirrors. It keeps
// health records per mirror, fails over when a mirror breaks mid-install,
// caches downloaded artifacts by content hash, and explains version conflicts
// before the package manager runs into them.
//
// The typical data flow of an install:
//
//	manifest or CLI arguments
//	         ↓
//	    [deps] requirements (requirements.txt, package.json)
//	         ↓
//	    [selector] picks a mirror from [source] and [health]
//	         ↓
//	    [installer] cache lookup, download, package manager run, failover
//	         ↓
//	    [history] journal, then [lock] files per environment
//
// # Mirrors and health
//
// [source] holds the registry of mirrors (a YAML file, or built-in presets).
// [health] probes them, counts consecutive failures against a threshold,
// and persists the state to a file or Redis. [selector] ranks the
// usable mirrors by health, priority and latency.
//
// # Installing
//
// [installer] runs one request: each package is looked up in [cache] first,
// then fetched from the selected mirror through [integrations] and
// [httputil], verified, and handed to pip or npm. Failures are classified as
// transient, source-level, terminal or conflicts; only source-level failures
// move on to the next mirror.
//
// # Conflicts
//
// [conflict] walks the dependency graph through the mirror with the
// resolvers of [deps], intersects the version ranges of [constraint] per
// package, and reports every package whose ranges have no common version.
// The graph can be written with [graph] as JSON or DOT.
//
// # Support packages
//
//   - [config]: TOML configuration, DEPS_* environment variables and XDG paths
//   - [errors]: coded errors shared by every layer
//   - [fsutil]: atomic writes and file locks
//   - [observability]: install hooks for logging and metrics
//   - [buildinfo]: version information
//
// [deps]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/deps
// [selector]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/selector
// [source]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/source
// [health]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/health
// [installer]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/installer
// [history]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/history
// [lock]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/lock
// [cache]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/cache
// [integrations]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/integrations
// [httputil]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/httputil
// [conflict]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/conflict
// [constraint]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/constraint
// [graph]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/graph
// [config]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/config
// [errors]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/errors
// [fsutil]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/fsutil
// [observability]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/observability
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/smoothdeps/pkg/buildinfo
package pkg
