package installer

import (
	"context"
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"sync"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/integrations"
	"github.com/matzehuels/smoothdeps/pkg/integrations/npm"
	"github.com/matzehuels/smoothdeps/pkg/integrations/pypi"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Artifact is a resolved package version, downloaded when the mirror lists
// a file that installs anywhere: a pure-python wheel or an npm tarball.
type Artifact struct {
	Name     string
	Version  string
	Filename string
	URL      string
	Path     string // Local file; empty when no installable file exists
	Digest   httputil.Digest
}

// Fetcher resolves req on src and downloads the chosen file into dir.
//
// Errors carry [smerrors] codes: PACKAGE_NOT_FOUND when the mirror has no
// matching version, TRANSIENT (and retryable) for timeouts and 5xx answers,
// SOURCE_FAILURE for anything else the mirror got wrong.
type Fetcher interface {
	Fetch(ctx context.Context, src source.Source, req deps.Requirement, dir string) (*Artifact, error)
}

// RegistryFetcher implements [Fetcher] with the pypi and npm clients. One
// client is kept per mirror.
type RegistryFetcher struct {
	meta    *httputil.Cache
	headers map[string]string
	dl      *httputil.Downloader
	refresh bool

	mu     sync.Mutex
	python string
	pypi   map[string]*pypi.Client
	npm    map[string]*npm.Client
}

// NewRegistryFetcher creates a fetcher. meta caches index pages and may be
// nil; dl nil uses a plain downloader.
func NewRegistryFetcher(meta *httputil.Cache, dl *httputil.Downloader, headers map[string]string) *RegistryFetcher {
	if dl == nil {
		dl = httputil.NewDownloader(nil)
	}
	return &RegistryFetcher{
		meta:    meta,
		headers: headers,
		dl:      dl,
		pypi:    map[string]*pypi.Client{},
		npm:     map[string]*npm.Client{},
	}
}

// SetRefresh makes later fetches bypass the metadata cache.
func (f *RegistryFetcher) SetRefresh(refresh bool) { f.refresh = refresh }

// SetPython implements [PythonSetter]. Files whose Requires-Python excludes
// version are not offered to pip.
func (f *RegistryFetcher) SetPython(version string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.python = version
}

func (f *RegistryFetcher) pythonVersion() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.python
}

// Retries happen per attempt in the installer, so clients try once.
var singleAttempt = httputil.Backoff{Attempts: 1}

func (f *RegistryFetcher) pypiClient(src source.Source) *pypi.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.pypi[src.Key()]
	if !ok {
		c = pypi.NewClient(src.URL, f.meta, f.headers)
		c.SetBackoff(singleAttempt)
		f.pypi[src.Key()] = c
	}
	return c
}

func (f *RegistryFetcher) npmClient(src source.Source) *npm.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.npm[src.Key()]
	if !ok {
		c = npm.NewClient(src.URL, f.meta, f.headers)
		c.SetBackoff(singleAttempt)
		f.npm[src.Key()] = c
	}
	return c
}

func (f *RegistryFetcher) Fetch(ctx context.Context, src source.Source, req deps.Requirement, dir string) (*Artifact, error) {
	art, err := f.Resolve(ctx, src, req)
	if err != nil {
		return nil, err
	}
	if art.URL == "" {
		return art, nil
	}

	dest := filepath.Join(dir, art.Filename)
	if _, err := f.dl.Download(ctx, art.URL, dest, art.Digest); err != nil {
		return nil, downloadError(src, art, err)
	}
	art.Path = dest
	return art, nil
}

// Resolve implements [Resolver].
func (f *RegistryFetcher) Resolve(ctx context.Context, src source.Source, req deps.Requirement) (*Artifact, error) {
	var (
		art *Artifact
		err error
	)
	if src.Kind == source.KindNpm {
		art, err = f.resolveNpm(ctx, src, req)
	} else {
		art, err = f.resolvePip(ctx, src, req)
	}
	if err != nil {
		return nil, metadataError(src, req, err)
	}
	return art, nil
}

func (f *RegistryFetcher) resolvePip(ctx context.Context, src source.Source, req deps.Requirement) (*Artifact, error) {
	proj, err := f.pypiClient(src).Project(ctx, req.Name, f.refresh)
	if err != nil {
		return nil, err
	}
	cand, err := proj.Resolve(req.Spec, f.pythonVersion())
	if err != nil {
		return nil, err
	}
	art := &Artifact{Name: proj.Name, Version: cand.Version}
	if cand.File != nil {
		art.Filename = cand.File.Filename
		art.URL = cand.File.URL
		art.Digest = cand.File.Digest()
	}
	return art, nil
}

func (f *RegistryFetcher) resolveNpm(ctx context.Context, src source.Source, req deps.Requirement) (*Artifact, error) {
	m, err := f.npmClient(src).FetchVersion(ctx, req.Name, req.Spec, f.refresh)
	if err != nil {
		return nil, err
	}
	art := &Artifact{Name: m.Name, Version: m.Version}
	if m.Dist.Tarball != "" {
		art.URL = m.Dist.Tarball
		art.Filename = tarballName(m.Dist.Tarball, m.Name, m.Version)
		art.Digest = m.Dist.Digest()
	}
	return art, nil
}

// tarballName returns the file name of a tarball URL, without query.
func tarballName(raw, name, version string) string {
	if u, err := url.Parse(raw); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return path.Base(name) + "-" + version + ".tgz"
}

func metadataError(src source.Source, req deps.Requirement, err error) error {
	switch {
	case smerrors.GetCode(err) != "":
		return err
	case errors.Is(err, integrations.ErrNotFound), errors.Is(err, integrations.ErrNoMatchingVersion):
		return smerrors.Wrap(smerrors.ErrCodePackageNotFound, err, "%s%s not found on %s", req.Name, req.Spec, src.Name)
	case httputil.IsRetryable(err):
		return smerrors.Wrap(smerrors.ErrCodeTransient, err, "%s: %s", src.Name, req.Name)
	}
	return smerrors.Wrap(smerrors.ErrCodeSourceFailure, err, "%s: %s", src.Name, req.Name)
}

// A listed file that cannot be downloaded is the mirror's fault, even a 404.
func downloadError(src source.Source, art *Artifact, err error) error {
	if httputil.IsRetryable(err) {
		return smerrors.Wrap(smerrors.ErrCodeTransient, err, "download %s from %s", art.Filename, src.Name)
	}
	return smerrors.Wrap(smerrors.ErrCodeSourceFailure, err, "download %s from %s", art.Filename, src.Name)
}

// pinned returns the requirement for exactly version.
func pinned(kind source.Kind, req deps.Requirement, version string) deps.Requirement {
	if version == "" {
		return req
	}
	out := req
	if kind == source.KindNpm {
		out.Spec = version
	} else {
		out.Spec = "==" + version
	}
	return out
}

// specSet parses req's specifier for kind.
func specSet(kind source.Kind, req deps.Requirement) (constraint.Set, error) {
	set, err := constraint.Parse(kind, req.Spec)
	if err != nil {
		if smerrors.GetCode(err) == "" {
			err = smerrors.Wrap(smerrors.ErrCodeInvalidVersionSpec, err, "%s", req)
		}
		return constraint.Set{}, err
	}
	return set, nil
}
