package deps

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Language ties an installer kind to its manifest files, requirement syntax
// and registry metadata.
type Language struct {
	Kind source.Kind

	// ManifestFiles lists candidate manifests per environment, most specific
	// first. Environments without an entry use the prod list.
	ManifestFiles map[Environment][]string

	// ParseRequirement parses one requirement as typed on the command line.
	ParseRequirement func(s string) (Requirement, error)

	// NewManifest returns the parser for this language's manifests.
	NewManifest func() ManifestParser

	// NewFetcher returns a metadata fetcher for the mirror at baseURL.
	NewFetcher func(baseURL string, cache *httputil.Cache, headers map[string]string) Fetcher
}

// Files returns the manifest candidates for env.
func (l *Language) Files(env Environment) []string {
	if files, ok := l.ManifestFiles[env]; ok {
		return files
	}
	return l.ManifestFiles[EnvProd]
}

// FindManifest returns the first manifest for env that exists in dir.
func (l *Language) FindManifest(dir string, env Environment) (string, error) {
	for _, name := range l.Files(env) {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no %s manifest for %s in %s (looked for %v): %w", l.Kind, env, dir, l.Files(env), fs.ErrNotExist)
}

// LoadManifest finds and parses the manifest for env in dir.
func (l *Language) LoadManifest(dir string, env Environment) (string, []Requirement, error) {
	path, err := l.FindManifest(dir, env)
	if err != nil {
		return "", nil, err
	}
	reqs, err := l.NewManifest().Parse(path, env)
	if err != nil {
		return path, nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return path, reqs, nil
}
