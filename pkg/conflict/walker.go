package conflict

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/deps/languages"
	"github.com/matzehuels/smoothdeps/pkg/graph"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/selector"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// SourceSelector picks the mirror whose metadata is walked.
// [selector.Selector] implements it.
type SourceSelector interface {
	Select(ctx context.Context, kind source.Kind, override string) (selector.Selection, error)
}

// Walker builds requirement graphs from environment manifests and registry
// metadata: requires_dist from the PyPI JSON API, dependencies from npm
// packuments.
type Walker struct {
	Selector SourceSelector
	Cache    *httputil.Cache // Metadata cache; nil disables caching
	Headers  map[string]string
	Options  deps.Options
	Logger   *log.Logger
}

// Walk loads the manifest for env in dir and resolves it. The manifest path
// is stored in the graph metadata under "manifest".
func (w *Walker) Walk(ctx context.Context, kind source.Kind, dir string, env deps.Environment, override string) (*graph.Graph, error) {
	lang, err := languages.For(kind)
	if err != nil {
		return nil, err
	}
	path, reqs, err := lang.LoadManifest(dir, env)
	if err != nil {
		return nil, err
	}
	g, err := w.Resolve(ctx, kind, reqs, override)
	if err != nil {
		return nil, err
	}
	g.Meta()["manifest"] = path
	g.Meta()["environment"] = string(env)
	return g, nil
}

// Resolve builds the graph for reqs against the selected mirror.
func (w *Walker) Resolve(ctx context.Context, kind source.Kind, reqs []deps.Requirement, override string) (*graph.Graph, error) {
	lang, err := languages.For(kind)
	if err != nil {
		return nil, err
	}
	sel, err := w.Selector.Select(ctx, kind, override)
	if err != nil {
		return nil, err
	}

	logger := w.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Debug("walking requirements", "kind", kind, "source", sel.Source.Name, "roots", len(reqs))

	opts := w.Options
	if opts.Logger == nil {
		opts.Logger = logger
	}
	fetcher := lang.NewFetcher(sel.Source.BaseURL(), w.Cache, w.Headers)
	return deps.NewRegistry(sel.Source.Name, kind, fetcher).Resolve(ctx, reqs, opts)
}

// Requested renders root requirements for [Report.RequestedSpec].
func Requested(reqs []deps.Requirement) string {
	parts := make([]string, len(reqs))
	for i, r := range reqs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
