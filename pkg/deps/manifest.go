package deps

import (
	"fmt"
	"path/filepath"
)

// ManifestParser reads direct requirements from a local manifest file.
type ManifestParser interface {
	// Parse reads the manifest at path and returns the requirements that
	// apply to env, in file order.
	Parse(path string, env Environment) ([]Requirement, error)
	// Supports reports whether this parser handles the given filename.
	Supports(filename string) bool
	// Type returns the manifest type identifier (e.g., "requirements.txt").
	Type() string
}

// DetectManifest finds a parser that supports the given file path.
// Returns an error if no parser matches.
func DetectManifest(path string, parsers ...ManifestParser) (ManifestParser, error) {
	name := filepath.Base(path)
	for _, p := range parsers {
		if p.Supports(name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unsupported manifest: %s", name)
}
