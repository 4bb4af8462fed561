package installer

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/smoothdeps/pkg/cache"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/integrations/pypi"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// closureFetchers bounds concurrent tarball downloads for one npm closure.
const closureFetchers = 4

// Dependency is a package installed as part of another one's closure.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func sortDependencies(ds []Dependency) {
	slices.SortFunc(ds, func(a, b Dependency) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Version, b.Version))
	})
}

func pinsOf(ds []Dependency) []cache.Pin {
	if len(ds) == 0 {
		return nil
	}
	out := make([]cache.Pin, len(ds))
	for i, d := range ds {
		out[i] = cache.Pin{Name: d.Name, Version: d.Version}
	}
	return out
}

func dependenciesOf(pins []cache.Pin) []Dependency {
	if len(pins) == 0 {
		return nil
	}
	out := make([]Dependency, len(pins))
	for i, p := range pins {
		out[i] = Dependency{Name: p.Name, Version: p.Version}
	}
	return out
}

// =============================================================================
// pip
// =============================================================================

// savedFile is a distribution pip saved during a download.
type savedFile struct {
	name, version, path string
}

// pipFiles lists the distributions in dir, in file name order.
func pipFiles(dir string) []savedFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []savedFile
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if name, version, ok := pypi.ParseFilename(de.Name()); ok {
			out = append(out, savedFile{name: name, version: version, path: filepath.Join(dir, de.Name())})
		}
	}
	return out
}

// pipClosure downloads target and its dependencies from src, caches every
// file and returns the dependencies. The package's own file is cached here
// only when the mirror listed no pure wheel for it. Failures only warn:
// the install already succeeded.
func (in *Installer) pipClosure(ctx context.Context, r *run, target string, art *Artifact, src source.Source) []Dependency {
	dir, err := os.MkdirTemp(r.scratch, "closure-")
	if err != nil {
		in.logger.Warn("could not stage dependencies", "package", art.Name, "err", err)
		return nil
	}
	defer os.RemoveAll(dir)

	if out, err := in.runner.Run(ctx, in.commands.Download(r.req, target, src, dir)); err != nil {
		in.logger.Warn("could not download dependencies for the cache", "package", art.Name, "err", lastLine(out))
		return nil
	}

	name := source.KindPip.Normalize(art.Name)
	var closure []Dependency
	var own *savedFile
	files := pipFiles(dir)
	for i, f := range files {
		if f.name == name {
			own = &files[i]
			continue
		}
		closure = append(closure, Dependency{Name: f.name, Version: f.version})
		in.put(ctx, cache.Artifact{Name: f.name, Version: f.version, Kind: source.KindPip, Source: src.Name}, f.path)
	}
	sortDependencies(closure)

	if art.Path == "" && own != nil && own.version == art.Version {
		in.put(ctx, cache.Artifact{
			Name:     name,
			Version:  art.Version,
			Kind:     source.KindPip,
			Source:   src.Name,
			Requires: pinsOf(closure),
		}, own.path)
	}
	return closure
}

var pipPythonRe = regexp.MustCompile(`\(python (\d+(?:\.\d+)+)\)`)

// pipPython extracts the interpreter version from "pip --version" output.
func pipPython(out []byte) string {
	if m := pipPythonRe.FindSubmatch(out); m != nil {
		return string(m[1])
	}
	return ""
}

// PythonSetter is implemented by fetchers that skip files the interpreter
// cannot install. [RegistryFetcher] implements it.
type PythonSetter interface {
	SetPython(version string)
}

// detectPython tells the fetcher which interpreter pip runs on, once per
// installer.
func (in *Installer) detectPython(ctx context.Context) {
	ps, ok := in.fetcher.(PythonSetter)
	if !ok {
		return
	}
	in.pythonOnce.Do(func() {
		v := in.python
		if v == "" {
			out, err := in.runner.Run(ctx, in.commands.PipVersion())
			if err == nil {
				v = pipPython(out)
			}
			if v == "" {
				in.logger.Debug("python version unknown, Requires-Python is not checked", "err", err)
			}
		}
		ps.SetPython(v)
	})
}

// =============================================================================
// npm
// =============================================================================

type npmNode struct {
	Version      string             `json:"version"`
	Dependencies map[string]npmNode `json:"dependencies"`
}

// parseNpmTree reads "npm ls <name> --json --all" output and returns every
// package below name. The output may be surrounded by npm warnings.
func parseNpmTree(out []byte, name string) ([]Dependency, error) {
	i := bytes.IndexByte(out, '{')
	if i < 0 {
		return nil, fmt.Errorf("no JSON in npm ls output")
	}
	var root npmNode
	if err := json.NewDecoder(bytes.NewReader(out[i:])).Decode(&root); err != nil {
		return nil, fmt.Errorf("decode npm ls output: %w", err)
	}
	top, ok := root.Dependencies[name]
	if !ok {
		return nil, fmt.Errorf("%s is not in the installed tree", name)
	}

	seen := map[Dependency]bool{}
	var closure []Dependency
	var walk func(n npmNode)
	walk = func(n npmNode) {
		for dep, child := range n.Dependencies {
			d := Dependency{Name: dep, Version: child.Version}
			if d.Version == "" || seen[d] {
				continue
			}
			seen[d] = true
			closure = append(closure, d)
			walk(child)
		}
	}
	walk(top)
	sortDependencies(closure)
	return closure, nil
}

// npmClosure reads the installed tree of name and caches the tarball of
// every dependency not cached yet. npm ls exits non-zero on peer warnings
// but still prints the tree, so only unreadable output is a failure.
func (in *Installer) npmClosure(ctx context.Context, r *run, name string, src source.Source) []Dependency {
	out, runErr := in.runner.Run(ctx, in.commands.Tree(r.req, name))
	closure, err := parseNpmTree(out, name)
	if err != nil {
		in.logger.Warn("could not read the npm dependency tree", "package", name, "err", err, "exit", runErr)
		return nil
	}

	dir, err := os.MkdirTemp(r.scratch, "closure-")
	if err != nil {
		in.logger.Warn("could not stage dependencies", "package", name, "err", err)
		return closure
	}
	defer os.RemoveAll(dir)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(closureFetchers)
	for _, d := range closure {
		if _, err := in.cache.Get(gctx, cache.Key(d.Name, d.Version, source.KindNpm)); err == nil {
			continue
		}
		g.Go(func() error {
			art, err := in.fetcher.Fetch(gctx, src, deps.Requirement{Name: d.Name, Spec: d.Version}, dir)
			if err != nil {
				in.logger.Debug("dependency not cached", "package", d.Name, "version", d.Version, "err", err)
				return nil
			}
			if art.Path != "" {
				in.store(gctx, source.KindNpm, art, src, nil)
			}
			return nil
		})
	}
	_ = g.Wait()
	return closure
}

// =============================================================================
// Cache
// =============================================================================

// cachedClosure returns the cached files of entry's dependencies. complete
// is false when one of them is missing from the cache.
func (in *Installer) cachedClosure(ctx context.Context, kind source.Kind, entry *cache.Entry) (files []string, complete bool) {
	complete = true
	for _, p := range entry.Requires {
		e, err := in.cache.Get(ctx, p.Key(kind))
		if err != nil {
			complete = false
			continue
		}
		files = append(files, e.Path)
	}
	return files, complete
}

// put stores a file in the cache. Failures are logged.
func (in *Installer) put(ctx context.Context, a cache.Artifact, path string) {
	if _, err := in.cache.Put(ctx, a, path); err != nil {
		in.logger.Warn("cache put failed", "package", a.Name, "version", a.Version, "err", err)
	}
}
