// Package lock exports and restores lock files.
//
// A lock file records, per environment, the exact version of every package
// that was installed and the mirror that supplied it. It is built from the
// install history rather than by re-resolving, so it describes what is
// actually on disk. Restoring turns it back into install requests pinned to
// those versions, preferring the recorded mirrors while keeping failover.
package lock

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/fsutil"
	"github.com/matzehuels/smoothdeps/pkg/history"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// FormatVersion is written to every lock file.
const FormatVersion = 1

// Entry is one locked package. Indirect entries were installed as the
// dependency of another package.
type Entry struct {
	Name     string      `toml:"name"`
	Version  string      `toml:"version"`
	Kind     source.Kind `toml:"kind"`
	Source   string      `toml:"source,omitempty"`
	Indirect bool        `toml:"indirect,omitempty"`
}

func (e Entry) key() string { return string(e.Kind) + "/" + e.Name }

// File is the content of a lock file.
type File struct {
	Version     int              `toml:"version"`
	Environment deps.Environment `toml:"environment"`
	Generated   time.Time        `toml:"generated"`
	Packages    []Entry          `toml:"package"`
}

// Filename returns the lock file name for env: "deps.<env>.lock".
func Filename(env deps.Environment) string {
	return "deps." + string(env) + ".lock"
}

// Path returns the lock file path for env in dir.
func Path(dir string, env deps.Environment) string {
	return filepath.Join(dir, Filename(env))
}

// Export builds the lock content for env from install history, oldest
// record first. The latest install of a package wins and packages keep the
// position of their first install. Dependencies recorded with a package are
// locked as indirect entries from the same source; they never replace a
// package that was installed directly. Uninstalled packages are dropped.
func Export(env deps.Environment, records []history.Record, now time.Time) *File {
	f := &File{Version: FormatVersion, Environment: env, Generated: now.UTC().Truncate(time.Second)}
	index := map[string]int{}
	add := func(e Entry) {
		i, ok := index[e.key()]
		switch {
		case !ok:
			index[e.key()] = len(f.Packages)
			f.Packages = append(f.Packages, e)
		case e.Indirect && !f.Packages[i].Indirect:
			// Direct installs keep their version.
		default:
			f.Packages[i] = e
		}
	}
	remove := func(key string) {
		i, ok := index[key]
		if !ok {
			return
		}
		f.Packages = slices.Delete(f.Packages, i, i+1)
		delete(index, key)
		for k, j := range index {
			if j > i {
				index[k] = j - 1
			}
		}
	}

	for _, r := range records {
		if r.Environment != env {
			continue
		}
		for _, name := range r.Removed {
			remove(Entry{Name: r.Kind.Normalize(name), Kind: r.Kind}.key())
		}
		for _, p := range r.Installed {
			add(Entry{Name: r.Kind.Normalize(p.Name), Version: p.Version, Kind: r.Kind, Source: p.Source, Indirect: p.Indirect})
			for _, d := range p.Dependencies {
				add(Entry{Name: r.Kind.Normalize(d.Name), Version: d.Version, Kind: r.Kind, Source: p.Source, Indirect: true})
			}
		}
	}
	return f
}

// Direct returns the entries of kind that were installed directly.
func (f *File) Direct(kind source.Kind) []Entry {
	var out []Entry
	for _, e := range f.Packages {
		if e.Kind == kind && !e.Indirect {
			out = append(out, e)
		}
	}
	return out
}

// Kinds returns the installer kinds present, in order of first appearance.
func (f *File) Kinds() []source.Kind {
	var out []source.Kind
	for _, e := range f.Packages {
		if !slices.Contains(out, e.Kind) {
			out = append(out, e.Kind)
		}
	}
	return out
}

// Request reconstructs the install request for kind: every package pinned
// to its locked version, with its recorded source preferred.
//
// Indirect pip entries are installed first, so pip finds the locked
// dependency versions already satisfied. Indirect npm entries are left to
// npm: package-lock.json pins them, and naming them would add them to
// package.json.
func (f *File) Request(kind source.Kind) installer.Request {
	req := installer.Request{Kind: kind, Environment: f.Environment, Preferred: map[string]string{}}
	var direct []deps.Requirement
	for _, e := range f.Packages {
		if e.Kind != kind || (e.Indirect && kind == source.KindNpm) {
			continue
		}
		r := Pin(kind, e.Name, e.Version)
		if e.Indirect {
			if req.Indirect == nil {
				req.Indirect = map[string]bool{}
			}
			req.Indirect[e.Name] = true
			req.Packages = append(req.Packages, r)
		} else {
			direct = append(direct, r)
		}
		if e.Source != "" && e.Source != installer.CacheSource {
			req.Preferred[e.Name] = e.Source
		}
	}
	req.Packages = append(req.Packages, direct...)
	return req
}

// Pin returns the requirement for exactly version of name.
func Pin(kind source.Kind, name, version string) deps.Requirement {
	if kind == source.KindNpm {
		return deps.Requirement{Name: name, Spec: version, Raw: name + "@" + version}
	}
	return deps.Requirement{Name: name, Spec: "==" + version, Raw: name + "==" + version}
}

// Requests returns one request per kind in the file.
func (f *File) Requests() []installer.Request {
	var out []installer.Request
	for _, k := range f.Kinds() {
		out = append(out, f.Request(k))
	}
	return out
}

// Validate checks the format version and every entry.
func (f *File) Validate() error {
	if f.Version != FormatVersion {
		return smerrors.New(smerrors.ErrCodeInvalidManifest, "unsupported lock format version %d", f.Version)
	}
	if _, err := deps.ParseEnvironment(string(f.Environment)); err != nil {
		return err
	}
	for i, e := range f.Packages {
		if !e.Kind.Valid() {
			return smerrors.New(smerrors.ErrCodeInvalidManifest, "package %d: unknown kind %q", i+1, e.Kind)
		}
		if e.Name == "" || e.Version == "" {
			return smerrors.New(smerrors.ErrCodeInvalidManifest, "package %d: name and version are required", i+1)
		}
	}
	return nil
}

// Marshal encodes f as TOML.
func (f *File) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# Generated by deps lock. Restore with deps restore.\n\n")
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores f at path, replacing any existing file atomically.
func Write(path string, f *File) error {
	data, err := f.Marshal()
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}
	return fsutil.WriteAtomic(path, data, 0o644)
}

// Read parses and validates the lock file at path.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, smerrors.Wrap(smerrors.ErrCodeFileNotFound, err, "no lock file at %s", path)
		}
		return nil, err
	}
	var f File
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, smerrors.Wrap(smerrors.ErrCodeInvalidManifest, err, "parse %s", filepath.Base(path))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Import reads path and returns the install requests it describes.
func Import(path string) ([]installer.Request, error) {
	f, err := Read(path)
	if err != nil {
		return nil, err
	}
	return f.Requests(), nil
}
