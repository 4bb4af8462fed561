package npm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/integrations"
)

// AcceptAbbreviated requests the abbreviated ("corgi") packument, which
// carries everything an install needs and is a fraction of the full size.
const AcceptAbbreviated = "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8"

// Dist locates a version's tarball.
type Dist struct {
	Tarball      string `json:"tarball"`
	Integrity    string `json:"integrity,omitempty"`
	Shasum       string `json:"shasum,omitempty"`
	UnpackedSize int64  `json:"unpackedSize,omitempty"`
}

// Digest returns the integrity digest, falling back to the sha1 shasum.
func (d Dist) Digest() httputil.Digest {
	if d.Integrity != "" {
		if dg, err := httputil.ParseIntegrity(d.Integrity); err == nil {
			return dg
		}
	}
	if d.Shasum != "" {
		return httputil.SHA1(d.Shasum)
	}
	return httputil.Digest{}
}

// Manifest is one version entry of a packument.
type Manifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	Dist                 Dist              `json:"dist"`
	Deprecated           string            `json:"deprecated,omitempty"`
}

// Requirements returns dependencies and peer dependencies as sorted
// (name, range) pairs. Optional dependencies are left out.
func (m Manifest) Requirements() [][2]string {
	var out [][2]string
	for _, deps := range []map[string]string{m.Dependencies, m.PeerDependencies} {
		for _, name := range slices.Sorted(maps.Keys(deps)) {
			out = append(out, [2]string{name, deps[name]})
		}
	}
	return out
}

// Packument is a registry package document.
type Packument struct {
	Name     string              `json:"name"`
	DistTags map[string]string   `json:"dist-tags"`
	Versions map[string]Manifest `json:"versions"`
}

// Resolve picks the version for spec the way npm does: a dist-tag names its
// version directly; for a range the "latest" tag wins when it satisfies the
// range, otherwise the highest matching version.
func (p *Packument) Resolve(spec string) (Manifest, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		spec = "latest"
	}
	if v, ok := p.DistTags[spec]; ok {
		if m, ok := p.Versions[v]; ok {
			return m, nil
		}
	}

	set, err := constraint.ParseNpm(spec)
	if err != nil {
		return Manifest{}, err
	}
	if latest, ok := p.DistTags["latest"]; ok && set.Allows(latest) {
		if m, ok := p.Versions[latest]; ok {
			return m, nil
		}
	}
	v, ok := constraint.Latest(set, slices.Collect(maps.Keys(p.Versions)))
	if !ok {
		return Manifest{}, fmt.Errorf("%w: %s@%s", integrations.ErrNoMatchingVersion, p.Name, spec)
	}
	return p.Versions[v], nil
}

// Client talks to one npm registry mirror.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	registryURL string
}

// NewClient creates a client for the registry at registryURL, for example
// "https://registry.npmmirror.com".
func NewClient(registryURL string, cache *httputil.Cache, headers map[string]string) *Client {
	registryURL = strings.TrimRight(registryURL, "/")
	if cache != nil {
		cache = cache.Namespace("npm:" + registryURL + ":")
	}
	return &Client{
		Client:      integrations.NewClient(cache, headers),
		registryURL: registryURL,
	}
}

// RegistryURL returns the registry base URL.
func (c *Client) RegistryURL() string { return c.registryURL }

// Packument fetches the abbreviated package document for name.
//
// Returns [integrations.ErrNotFound] if the registry has no such package.
func (c *Client) Packument(ctx context.Context, name string, refresh bool) (*Packument, error) {
	name = integrations.NormalizeNpmName(name)
	var p Packument
	err := c.Cached(ctx, name, refresh, &p, func() error {
		err := c.GetWithHeaders(ctx, c.registryURL+"/"+integrations.EscapeNpmName(name),
			map[string]string{"Accept": AcceptAbbreviated}, &p)
		if errors.Is(err, integrations.ErrNotFound) {
			return fmt.Errorf("%w: npm package %s", integrations.ErrNotFound, name)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = name
	}
	return &p, nil
}

// FetchVersion resolves spec against the packument of name.
func (c *Client) FetchVersion(ctx context.Context, name, spec string, refresh bool) (*Manifest, error) {
	p, err := c.Packument(ctx, name, refresh)
	if err != nil {
		return nil, err
	}
	m, err := p.Resolve(spec)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
