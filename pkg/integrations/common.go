package integrations

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

const httpTimeout = 10 * time.Second

var (
	// ErrNotFound is returned when a package or resource doesn't exist on a mirror.
	ErrNotFound = httputil.ErrNotFound

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = httputil.ErrNetwork

	// ErrNoMatchingVersion is returned when a package exists but no published
	// version satisfies the requested specifier.
	ErrNoMatchingVersion = errors.New("no matching version")
)

// NewHTTPClient creates an HTTP client with a standard timeout for registry requests.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// NewHTTPClientWithTimeout returns a client like [NewHTTPClient] with a
// custom timeout. A zero timeout keeps the default.
func NewHTTPClientWithTimeout(d time.Duration) *http.Client {
	if d <= 0 {
		d = httpTimeout
	}
	return &http.Client{Timeout: d}
}

// NormalizePkgName converts a Python package name to its PEP 503 canonical
// form: lowercase, with runs of "-", "_" and "." collapsed to "-".
func NormalizePkgName(name string) string { return source.KindPip.Normalize(name) }

// NormalizeNpmName trims and lowercases an npm package name. Scoped names
// keep their "@scope/" prefix.
func NormalizeNpmName(name string) string { return source.KindNpm.Normalize(name) }

// EscapeNpmName escapes a package name for a registry path. Scoped packages
// keep the leading "@" and encode the slash, as the npm registry expects.
func EscapeNpmName(name string) string {
	if strings.HasPrefix(name, "@") {
		return "@" + url.PathEscape(name[1:])
	}
	return url.PathEscape(name)
}

// ResolveURL resolves ref against base. Simple-index pages link files with
// relative URLs.
func ResolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
