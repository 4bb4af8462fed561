package errors

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// maxPackageName bounds names taken from manifests, lock files and the
// command line before they reach a URL path or a cache directory name.
const maxPackageName = 214

// ValidatePackageName rejects names that are unsafe to put into a registry
// URL or a file path, whatever the ecosystem: empty or overlong names,
// control characters, backslashes, and any path segment that is empty or
// "..". A single "/" is accepted for npm scopes.
//
// Ecosystem rules are checked by [ValidatePythonPackageName] and
// [ValidateNpmPackageName].
func ValidatePackageName(name string) error {
	switch {
	case name == "":
		return New(ErrCodeInvalidPackage, "package name cannot be empty")
	case len(name) > maxPackageName:
		return New(ErrCodeInvalidPackage, "package name too long (max %d characters)", maxPackageName)
	case strings.ContainsRune(name, '\\'):
		return New(ErrCodeInvalidPackage, "package name %q contains a backslash", name)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return New(ErrCodeInvalidPackage, "package name contains control characters")
	}

	segments := strings.Split(name, "/")
	if len(segments) > 2 {
		return New(ErrCodeInvalidPackage, "package name %q has more than one '/'", name)
	}
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return New(ErrCodeInvalidPackage, "package name %q has an invalid path segment", name)
		}
	}
	return nil
}

// ValidateURL checks a mirror base URL: http or https with a host. Query
// strings and fragments are refused since request paths are appended to it.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Wrap(ErrCodeInvalidInput, err, "invalid URL %q", rawURL)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return New(ErrCodeInvalidInput, "URL %q must use http or https", rawURL)
	case u.Host == "":
		return New(ErrCodeInvalidInput, "URL %q has no host", rawURL)
	case u.RawQuery != "" || u.Fragment != "":
		return New(ErrCodeInvalidInput, "URL %q must not carry a query or fragment", rawURL)
	}
	return nil
}

// PEP 508 names: alphanumerics, with '.', '_' and '-' allowed inside.
var pythonPackageNameRegex = regexp.MustCompile(`^([A-Za-z0-9]|[A-Za-z0-9][A-Za-z0-9._-]*[A-Za-z0-9])$`)

// ValidatePythonPackageName validates a distribution name per PEP 508.
func ValidatePythonPackageName(name string) error {
	if err := ValidatePackageName(name); err != nil {
		return err
	}
	if !pythonPackageNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPackage, "invalid Python package name: %q", name)
	}
	return nil
}

var npmPackageNameRegex = regexp.MustCompile(`^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)

// ValidateNpmPackageName validates an npm package name, scoped or not.
// Legacy mixed-case names are refused; registries no longer accept them.
func ValidateNpmPackageName(name string) error {
	if err := ValidatePackageName(name); err != nil {
		return err
	}
	if strings.Contains(name, "/") && !strings.HasPrefix(name, "@") {
		return New(ErrCodeInvalidPackage, "npm package %q: only scoped names contain '/'", name)
	}
	if strings.ToLower(name) != name {
		return New(ErrCodeInvalidPackage, "npm package names must be lowercase: %q", name)
	}
	if !npmPackageNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPackage, "invalid npm package name: %q", name)
	}
	return nil
}

// Mirror names such as "pypi-tsinghua".
var sourceNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidateSourceName validates the name of a package mirror.
func ValidateSourceName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidSource, "source name cannot be empty")
	}
	if !sourceNameRegex.MatchString(name) {
		return New(ErrCodeInvalidSource, "invalid source name %q (lowercase letters, digits, '.', '_' and '-')", name)
	}
	return nil
}
