package javascript

import (
	"context"
	"strings"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/integrations"
	"github.com/matzehuels/smoothdeps/pkg/integrations/npm"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Language provides package.json manifests and npm registry metadata.
var Language = &deps.Language{
	Kind: source.KindNpm,
	ManifestFiles: map[deps.Environment][]string{
		deps.EnvProd: {"package.json"},
	},
	ParseRequirement: ParseRequirement,
	NewManifest:      func() deps.ManifestParser { return &PackageJSON{} },
	NewFetcher:       newFetcher,
}

// ParseRequirement parses "name", "name@range" or "@scope/name@range".
// A dist-tag such as "latest" or "next" is accepted as the range.
func ParseRequirement(s string) (deps.Requirement, error) {
	raw := strings.TrimSpace(s)
	name, spec := raw, ""
	if i := strings.LastIndex(raw, "@"); i > 0 {
		name, spec = raw[:i], strings.TrimSpace(raw[i+1:])
	}
	if err := errors.ValidateNpmPackageName(name); err != nil {
		return deps.Requirement{}, err
	}
	if _, err := constraint.ParseNpm(spec); err != nil {
		return deps.Requirement{}, errors.Wrap(errors.ErrCodeInvalidVersionSpec, err, "invalid version range in %q", raw)
	}
	return deps.Requirement{Name: name, Spec: spec, Raw: raw}, nil
}

func newFetcher(baseURL string, cache *httputil.Cache, headers map[string]string) deps.Fetcher {
	return fetcher{npm.NewClient(baseURL, cache, headers)}
}

type fetcher struct{ *npm.Client }

func (f fetcher) Fetch(ctx context.Context, req deps.Requirement, refresh bool) (*deps.Package, error) {
	m, err := f.FetchVersion(ctx, req.Name, req.Spec, refresh)
	if err != nil {
		return nil, err
	}
	pkg := &deps.Package{Name: integrations.NormalizeNpmName(m.Name), Version: m.Version}
	for _, r := range m.Requirements() {
		pkg.Requirements = append(pkg.Requirements, deps.Requirement{
			Name: r[0],
			Spec: r[1],
			Raw:  r[0] + "@" + r[1],
		})
	}
	return pkg, nil
}
