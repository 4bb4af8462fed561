package pypi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/integrations"
)

const (
	// AcceptSimpleJSON asks a PEP 691 index for JSON, falling back to HTML.
	AcceptSimpleJSON = "application/vnd.pypi.simple.v1+json, application/vnd.pypi.simple.v1+html;q=0.2, text/html;q=0.01"

	simpleJSONType = "application/vnd.pypi.simple.v1+json"
)

// File is one distribution file listed on a simple-index project page.
type File struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Version        string            `json:"version"`
	Hashes         map[string]string `json:"hashes,omitempty"`
	RequiresPython string            `json:"requires_python,omitempty"`
	Yanked         bool              `json:"yanked,omitempty"`
	Size           int64             `json:"size,omitempty"`
}

// Digest returns the strongest published hash, or the zero digest.
func (f File) Digest() httputil.Digest {
	if h := f.Hashes["sha256"]; h != "" {
		return httputil.SHA256(h)
	}
	if h := f.Hashes["sha1"]; h != "" {
		return httputil.SHA1(h)
	}
	return httputil.Digest{}
}

// IsWheel reports whether f is a wheel.
func (f File) IsWheel() bool { return strings.HasSuffix(f.Filename, ".whl") }

// IsPureWheel reports whether f is a platform-independent Python 3 wheel.
func (f File) IsPureWheel() bool {
	if !f.IsWheel() {
		return false
	}
	tags := strings.Split(strings.TrimSuffix(f.Filename, ".whl"), "-")
	if len(tags) < 5 {
		return false
	}
	py, abi, plat := tags[len(tags)-3], tags[len(tags)-2], tags[len(tags)-1]
	return abi == "none" && plat == "any" && strings.Contains(py, "py3")
}

// IsSdist reports whether f is a source distribution.
func (f File) IsSdist() bool {
	for _, ext := range sdistExts {
		if strings.HasSuffix(f.Filename, ext) {
			return true
		}
	}
	return false
}

var sdistExts = []string{".tar.gz", ".zip", ".tar.bz2", ".tgz"}

// Project is a simple-index project page.
type Project struct {
	Name     string   `json:"name"`
	Files    []File   `json:"files"`
	Versions []string `json:"versions"`
}

// Candidate is the outcome of [Project.Resolve].
type Candidate struct {
	Name    string
	Version string
	File    *File // Nil when the version has no installable file for this host
}

// Resolve picks the highest version allowed by spec that has a file for the
// interpreter python ("3.11.4"; empty accepts every file), and the
// pure-python wheel of that version. A version without one resolves with a
// nil File so that pip chooses the platform wheel or builds the sdist
// itself. Yanked files are ignored unless the specifier pins that exact
// version.
func (p *Project) Resolve(spec, python string) (Candidate, error) {
	set, err := constraint.ParsePEP440(spec)
	if err != nil {
		return Candidate{}, err
	}
	_, pinned := set.Exact()
	usable := func(f File) bool {
		return (!f.Yanked || pinned) && SupportsPython(f.RequiresPython, python)
	}

	var versions []string
	seen := map[string]bool{}
	for _, f := range p.Files {
		if f.Version != "" && !seen[f.Version] && usable(f) {
			seen[f.Version] = true
			versions = append(versions, f.Version)
		}
	}
	if len(p.Files) == 0 {
		versions = p.Versions
	}
	version, ok := constraint.Latest(set, versions)
	if !ok {
		return Candidate{}, fmt.Errorf("%w: %s %s", integrations.ErrNoMatchingVersion, p.Name, spec)
	}

	c := Candidate{Name: p.Name, Version: version}
	for i := range p.Files {
		f := &p.Files[i]
		if f.Version == version && usable(*f) && f.IsPureWheel() {
			c.File = f
			break
		}
	}
	return c, nil
}

// SupportsPython reports whether a Requires-Python specifier admits the
// interpreter version. Unknown interpreters and unparsable specifiers are
// given the benefit of the doubt.
func SupportsPython(requires, python string) bool {
	if requires == "" || python == "" {
		return true
	}
	set, err := constraint.ParsePEP440(requires)
	if err != nil {
		return true
	}
	return set.Allows(python)
}

// ParseFilename splits a wheel or sdist filename into its normalized
// project name and version.
func ParseFilename(filename string) (name, version string, ok bool) {
	if stem, isWheel := strings.CutSuffix(filename, ".whl"); isWheel {
		parts := strings.Split(stem, "-")
		if len(parts) < 5 {
			return "", "", false
		}
		return integrations.NormalizePkgName(parts[0]), parts[1], true
	}
	for _, ext := range sdistExts {
		if stem, isSdist := strings.CutSuffix(filename, ext); isSdist {
			i := strings.LastIndex(stem, "-")
			if i <= 0 || i == len(stem)-1 {
				return "", "", false
			}
			return integrations.NormalizePkgName(stem[:i]), stem[i+1:], true
		}
	}
	return "", "", false
}

// PackageInfo holds release metadata from the PyPI JSON API.
type PackageInfo struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Summary        string   `json:"summary,omitempty"`
	RequiresPython string   `json:"requires_python,omitempty"`
	RequiresDist   []string `json:"requires_dist,omitempty"` // PEP 508 requirement strings
}

// Client talks to one PyPI mirror: its simple index and, where the mirror
// serves it, the JSON API.
//
// All methods are safe for concurrent use by multiple goroutines.
type Client struct {
	*integrations.Client
	indexURL string
	apiURL   string
}

// NewClient creates a client for the simple index at indexURL, for example
// "https://pypi.tuna.tsinghua.edu.cn/simple". The JSON API is assumed to
// live next to it under "/pypi".
func NewClient(indexURL string, cache *httputil.Cache, headers map[string]string) *Client {
	indexURL = strings.TrimRight(indexURL, "/")
	if cache != nil {
		cache = cache.Namespace("pypi:" + indexURL + ":")
	}
	return &Client{
		Client:   integrations.NewClient(cache, headers),
		indexURL: indexURL,
		apiURL:   APIURL(indexURL),
	}
}

// APIURL derives the JSON API base from a simple-index URL.
func APIURL(indexURL string) string {
	indexURL = strings.TrimRight(indexURL, "/")
	if base, ok := strings.CutSuffix(indexURL, "/simple"); ok {
		return base + "/pypi"
	}
	return integrations.ResolveURL(indexURL+"/", "../pypi")
}

// IndexURL returns the simple-index base URL.
func (c *Client) IndexURL() string { return c.indexURL }

// Project fetches the simple-index page for name.
//
// Returns [integrations.ErrNotFound] if the mirror has no such project.
func (c *Client) Project(ctx context.Context, name string, refresh bool) (*Project, error) {
	name = integrations.NormalizePkgName(name)
	var p Project
	err := c.Cached(ctx, "simple:"+name, refresh, &p, func() error {
		return c.fetchProject(ctx, name, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) fetchProject(ctx context.Context, name string, p *Project) error {
	page := c.indexURL + "/" + name + "/"
	resp, err := c.Fetch(ctx, page, map[string]string{"Accept": AcceptSimpleJSON})
	if err != nil {
		if errors.Is(err, integrations.ErrNotFound) {
			return fmt.Errorf("%w: pypi project %s", integrations.ErrNotFound, name)
		}
		return err
	}

	var parsed *Project
	if strings.HasPrefix(resp.ContentType, simpleJSONType) || strings.HasPrefix(resp.ContentType, "application/json") {
		parsed, err = parseSimpleJSON(resp.Body, resp.URL)
	} else {
		parsed, err = parseSimpleHTML(resp.Body, resp.URL)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", page, err)
	}
	parsed.Name = name
	for i := range parsed.Files {
		parsed.Files[i].Version = FileVersion(name, parsed.Files[i].Filename)
	}
	*p = *parsed
	return nil
}

// FetchPackage retrieves JSON API metadata for name at version. An empty
// version selects the latest release.
func (c *Client) FetchPackage(ctx context.Context, name, version string, refresh bool) (*PackageInfo, error) {
	name = integrations.NormalizePkgName(name)
	endpoint := c.apiURL + "/" + name + "/json"
	key := "json:" + name
	if version != "" {
		endpoint = c.apiURL + "/" + name + "/" + url.PathEscape(version) + "/json"
		key += "@" + version
	}

	var info PackageInfo
	err := c.Cached(ctx, key, refresh, &info, func() error {
		var data apiResponse
		if err := c.Get(ctx, endpoint, &data); err != nil {
			if errors.Is(err, integrations.ErrNotFound) {
				return fmt.Errorf("%w: pypi package %s %s", integrations.ErrNotFound, name, version)
			}
			return err
		}
		info = PackageInfo{
			Name:           integrations.NormalizePkgName(data.Info.Name),
			Version:        data.Info.Version,
			Summary:        data.Info.Summary,
			RequiresPython: data.Info.RequiresPython,
			RequiresDist:   data.Info.RequiresDist,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// =============================================================================
// Simple index parsing
// =============================================================================

type simpleJSON struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
	Files    []struct {
		Filename       string            `json:"filename"`
		URL            string            `json:"url"`
		Hashes         map[string]string `json:"hashes"`
		RequiresPython string            `json:"requires-python"`
		Yanked         json.RawMessage   `json:"yanked"` // bool or reason string
		Size           int64             `json:"size"`
	} `json:"files"`
}

func parseSimpleJSON(body []byte, base string) (*Project, error) {
	var doc simpleJSON
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	p := &Project{Name: doc.Name, Versions: doc.Versions}
	for _, f := range doc.Files {
		p.Files = append(p.Files, File{
			Filename:       f.Filename,
			URL:            integrations.ResolveURL(base, f.URL),
			Hashes:         f.Hashes,
			RequiresPython: f.RequiresPython,
			Yanked:         yanked(f.Yanked),
			Size:           f.Size,
		})
	}
	return p, nil
}

func yanked(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "false" && s != "null"
}

// parseSimpleHTML reads the anchors of a PEP 503 page. Hashes come from the
// URL fragment ("#sha256=...").
func parseSimpleHTML(body []byte, base string) (*Project, error) {
	p := &Project{}
	z := html.NewTokenizer(bytes.NewReader(body))
	var current *File
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, err
			}
			return p, nil
		case html.StartTagToken:
			tok := z.Token()
			if tok.Data != "a" {
				continue
			}
			f := File{}
			for _, a := range tok.Attr {
				switch a.Key {
				case "href":
					f.URL = a.Val
				case "data-requires-python":
					f.RequiresPython = a.Val
				case "data-yanked":
					f.Yanked = true
				}
			}
			if f.URL == "" {
				continue
			}
			if link, frag, ok := strings.Cut(f.URL, "#"); ok {
				if algo, sum, ok := strings.Cut(frag, "="); ok {
					f.Hashes = map[string]string{algo: sum}
				}
				f.URL = link
			}
			f.URL = integrations.ResolveURL(base, f.URL)
			current = &f
		case html.TextToken:
			if current != nil && current.Filename == "" {
				current.Filename = strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			if current != nil {
				if current.Filename == "" {
					current.Filename = lastSegment(current.URL)
				}
				p.Files = append(p.Files, *current)
				current = nil
			}
		}
	}
}

func lastSegment(u string) string {
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

// FileVersion extracts the version from a wheel or sdist filename.
func FileVersion(project, filename string) string {
	if stem, ok := strings.CutSuffix(filename, ".whl"); ok {
		parts := strings.Split(stem, "-")
		if len(parts) >= 5 {
			return parts[1]
		}
		return ""
	}
	stem := filename
	for _, ext := range sdistExts {
		if s, ok := strings.CutSuffix(filename, ext); ok {
			stem = s
			break
		}
	}
	if stem == filename {
		return ""
	}
	want := integrations.NormalizePkgName(project)
	for i := 0; i < len(stem); i++ {
		if stem[i] == '-' && integrations.NormalizePkgName(stem[:i]) == want {
			return stem[i+1:]
		}
	}
	if i := strings.LastIndex(stem, "-"); i >= 0 {
		return stem[i+1:]
	}
	return ""
}

type apiResponse struct {
	Info struct {
		Name           string   `json:"name"`
		Version        string   `json:"version"`
		Summary        string   `json:"summary"`
		RequiresPython string   `json:"requires_python"`
		RequiresDist   []string `json:"requires_dist"`
	} `json:"info"`
}
