package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/matzehuels/smoothdeps/pkg/fsutil"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
)

// ManifestName is the file listing the entries of an exported bundle.
const ManifestName = "manifest.json"

// Manifest describes an exported bundle. It is written to local directories
// and to S3 prefixes alike.
type Manifest struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// bundlePath is the relative location of e inside a bundle.
func bundlePath(e Entry) string { return filepath.ToSlash(filepath.Join(e.Key, e.Filename)) }

// Export copies every entry of store into dir, laid out like the objects
// folder, plus a manifest. Each copy is verified against the recorded hash.
// It returns the number of exported entries; failures of single entries are
// aggregated and do not stop the export.
func Export(ctx context.Context, store Store, dir string) (int, error) {
	entries, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	var errs error
	var done []Entry
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return len(done), err
		}
		dst := filepath.Join(dir, filepath.FromSlash(bundlePath(e)))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sum, _, err := copyHashed(e.Path, dst)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", e.Name, e.Version, err))
			continue
		}
		if sum != e.SHA256 {
			_ = os.Remove(dst)
			errs = multierr.Append(errs, fmt.Errorf("%s %s: sha256 mismatch", e.Name, e.Version))
			continue
		}
		e.Path = ""
		done = append(done, e)
	}

	data, err := json.MarshalIndent(Manifest{Version: 1, Entries: done}, "", "  ")
	if err != nil {
		return len(done), multierr.Append(errs, err)
	}
	if err := fsutil.WriteAtomic(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		errs = multierr.Append(errs, err)
	}
	return len(done), errs
}

// Import loads a bundle written by [Export] into store. Entries whose file
// doesn't match the manifest hash are skipped and reported.
func Import(ctx context.Context, store Store, dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("decode manifest: %w", err)
	}

	var errs error
	n := 0
	for _, e := range m.Entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		src := filepath.Join(dir, filepath.FromSlash(bundlePath(e)))
		if err := httputil.SHA256(e.SHA256).Verify(src); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", e.Name, e.Version, err))
			continue
		}
		if _, err := store.Put(ctx, artifactOf(e), src); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", e.Name, e.Version, err))
			continue
		}
		n++
	}
	return n, errs
}

func artifactOf(e Entry) Artifact {
	return Artifact{
		Name:     e.Name,
		Version:  e.Version,
		Kind:     e.Kind,
		Filename: e.Filename,
		Source:   e.Source,
		SHA256:   e.SHA256,
		Requires: e.Requires,
	}
}
