package python

import (
	"context"
	"errors"
	"slices"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/integrations"
	"github.com/matzehuels/smoothdeps/pkg/integrations/pypi"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Language provides pip manifests and PyPI metadata.
var Language = &deps.Language{
	Kind: source.KindPip,
	ManifestFiles: map[deps.Environment][]string{
		deps.EnvProd: {"requirements.txt"},
		deps.EnvDev:  {"requirements-dev.txt", "requirements.txt"},
		deps.EnvTest: {"requirements-test.txt", "requirements.txt"},
	},
	ParseRequirement: ParseRequirement,
	NewManifest:      func() deps.ManifestParser { return &Requirements{} },
	NewFetcher:       newFetcher,
}

func newFetcher(baseURL string, cache *httputil.Cache, headers map[string]string) deps.Fetcher {
	return fetcher{pypi.NewClient(baseURL, cache, headers)}
}

type fetcher struct{ *pypi.Client }

// Fetch resolves req against the simple index and reads requires_dist from
// the JSON API. Mirrors without a JSON API yield a package with no
// requirements.
func (f fetcher) Fetch(ctx context.Context, req deps.Requirement, refresh bool) (*deps.Package, error) {
	proj, err := f.Project(ctx, req.Name, refresh)
	if err != nil {
		return nil, err
	}
	cand, err := proj.Resolve(req.Spec, "")
	if err != nil {
		return nil, err
	}

	pkg := &deps.Package{Name: normalize(req.Name), Version: cand.Version}
	info, err := f.FetchPackage(ctx, req.Name, cand.Version, refresh)
	if errors.Is(err, integrations.ErrNotFound) {
		return pkg, nil
	}
	if err != nil {
		return nil, err
	}
	pkg.Summary = info.Summary
	pkg.Requirements = requiresDist(info.RequiresDist, req.Extras)
	return pkg, nil
}

// requiresDist keeps unconditional requirements and those gated on one of
// the requested extras. Unparseable entries are dropped.
func requiresDist(specs []string, extras []string) []deps.Requirement {
	wanted := make([]string, len(extras))
	for i, e := range extras {
		wanted[i] = normalize(e)
	}

	var out []deps.Requirement
	for _, s := range specs {
		req, err := ParseRequirement(s)
		if err != nil {
			continue
		}
		if extra, ok := MarkerExtra(req.Marker); ok && !slices.Contains(wanted, extra) {
			continue
		}
		out = append(out, req)
	}
	return out
}

func normalize(name string) string {
	return integrations.NormalizePkgName(name)
}
