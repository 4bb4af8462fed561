package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/fsutil"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/observability"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// staleTmp is how old a leftover temp folder must be before it is removed.
const staleTmp = time.Hour

// FileStore keeps artifacts on disk:
//
//	<dir>/objects/<key>/<filename>
//	<dir>/index.json
//	<dir>/tmp/
//	<dir>/.lock
//
// Every operation that touches the index holds the advisory lock, so several
// processes can share one cache directory.
type FileStore struct {
	dir    string
	clock  clock.Clock
	logger *log.Logger
	limits PruneOptions
	mu     sync.Mutex

	removeAll func(path string) error
}

// Option configures a [FileStore].
type Option func(*FileStore)

// WithClock sets the clock used for timestamps and age pruning.
func WithClock(c clock.Clock) Option { return func(s *FileStore) { s.clock = c } }

// WithLogger sets the logger. Nil keeps log.Default().
func WithLogger(l *log.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLimits makes [FileStore.Put] prune when the cache grows past opts.
func WithLimits(opts PruneOptions) Option { return func(s *FileStore) { s.limits = opts } }

type indexFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// NewFileStore opens or creates a cache rooted at dir.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	s := &FileStore{dir: dir, clock: clock.New(), logger: log.Default(), removeAll: os.RemoveAll}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range []string{s.objectsDir(), s.tmpDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	s.sweepTmp()
	return s, nil
}

// Dir returns the cache root.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) objectsDir() string { return filepath.Join(s.dir, "objects") }
func (s *FileStore) tmpDir() string     { return filepath.Join(s.dir, "tmp") }
func (s *FileStore) indexPath() string  { return filepath.Join(s.dir, "index.json") }
func (s *FileStore) lockPath() string   { return filepath.Join(s.dir, ".lock") }

func (s *FileStore) objectPath(e Entry) string {
	return filepath.Join(s.objectsDir(), e.Key, e.Filename)
}

// =============================================================================
// Index access
// =============================================================================

// locked runs fn with the index loaded under both locks. When fn reports a
// change the index is written back before the lock is released.
func (s *FileStore) locked(ctx context.Context, fn func(idx *indexFile) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := fsutil.Lock(ctx, s.lockPath())
	if err != nil {
		return err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	changed, err := fn(idx)
	if changed {
		if werr := s.writeIndex(idx); werr != nil {
			return multierr.Append(err, werr)
		}
	}
	return err
}

func (s *FileStore) readIndex() (*indexFile, error) {
	idx := &indexFile{Version: 1, Entries: map[string]Entry{}}
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, idx); err != nil {
		s.logger.Warn("cache index unreadable, starting empty", "path", s.indexPath(), "error", err)
		return &indexFile{Version: 1, Entries: map[string]Entry{}}, nil
	}
	if idx.Entries == nil {
		idx.Entries = map[string]Entry{}
	}
	return idx, nil
}

func (s *FileStore) writeIndex(idx *indexFile) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(s.indexPath(), data, 0o644)
}

func (s *FileStore) withPath(e Entry) *Entry {
	e.Path = s.objectPath(e)
	return &e
}

// =============================================================================
// Store
// =============================================================================

// Get implements [Store].
func (s *FileStore) Get(ctx context.Context, key string) (*Entry, error) {
	var out *Entry
	err := s.locked(ctx, func(idx *indexFile) (bool, error) {
		e, ok := idx.Entries[key]
		if !ok {
			return false, ErrMiss
		}
		if err := s.verify(e); err != nil {
			s.logger.Warn("cache entry corrupt, evicting", "package", e.Name, "version", e.Version, "error", err)
			delete(idx.Entries, key)
			_ = os.RemoveAll(filepath.Join(s.objectsDir(), key))
			observability.Cache().OnCacheEvict(ctx, "corrupt", e.Size)
			return true, fmt.Errorf("%w: %v", ErrMiss, err)
		}
		e.LastAccess = s.clock.Now()
		e.AccessCount++
		idx.Entries[key] = e
		out = s.withPath(e)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) verify(e Entry) error {
	sum, err := httputil.FileSHA256(s.objectPath(e))
	if err != nil {
		return smerrors.Wrap(smerrors.ErrCodeCacheCorrupt, err, "read %s", e.Filename)
	}
	if sum != e.SHA256 {
		return smerrors.New(smerrors.ErrCodeCacheCorrupt, "%s: sha256 %s, recorded %s", e.Filename, sum, e.SHA256)
	}
	return nil
}

// Lookup implements [Store].
func (s *FileStore) Lookup(ctx context.Context, name string, kind source.Kind, match func(string) bool) (*Entry, error) {
	name = kind.Normalize(name)

	s.mu.Lock()
	unlock, err := fsutil.RLock(ctx, s.lockPath())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	idx, err := s.readIndex()
	unlock()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var candidates []Entry
	for _, e := range idx.Entries {
		if e.Kind == kind && e.Name == name && (match == nil || match(e.Version)) {
			candidates = append(candidates, e)
		}
	}
	slices.SortFunc(candidates, func(a, b Entry) int { return constraint.Compare(b.Version, a.Version) })

	for _, c := range candidates {
		e, err := s.Get(ctx, c.Key)
		if err == nil {
			observability.Cache().OnCacheHit(ctx, string(kind))
			return e, nil
		}
		if !errors.Is(err, ErrMiss) {
			return nil, err
		}
	}
	observability.Cache().OnCacheMiss(ctx, string(kind))
	return nil, ErrMiss
}

// Put implements [Store].
func (s *FileStore) Put(ctx context.Context, a Artifact, srcPath string) (*Entry, error) {
	a.Name = a.Kind.Normalize(a.Name)
	if a.Filename == "" {
		a.Filename = filepath.Base(srcPath)
	}
	key := a.Key()

	staging, err := os.MkdirTemp(s.tmpDir(), key[:12]+"-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	sum, size, err := copyHashed(srcPath, filepath.Join(staging, a.Filename))
	if err != nil {
		return nil, err
	}
	if a.SHA256 != "" && a.SHA256 != sum {
		return nil, smerrors.New(smerrors.ErrCodeCacheCorrupt, "%s: sha256 %s, expected %s", a.Filename, sum, a.SHA256)
	}

	var out *Entry
	var evictNeeded bool
	err = s.locked(ctx, func(idx *indexFile) (bool, error) {
		if e, ok := idx.Entries[key]; ok && s.verify(e) == nil {
			if len(a.Requires) == 0 || slices.Equal(e.Requires, a.Requires) {
				out = s.withPath(e)
				return false, nil
			}
			e.Requires = a.Requires
			idx.Entries[key] = e
			out = s.withPath(e)
			return true, nil
		}
		final := filepath.Join(s.objectsDir(), key)
		if err := os.RemoveAll(final); err != nil {
			return false, err
		}
		if err := os.Rename(staging, final); err != nil {
			return false, err
		}
		now := s.clock.Now()
		e := Entry{
			Key:        key,
			Name:       a.Name,
			Version:    a.Version,
			Kind:       a.Kind,
			Filename:   a.Filename,
			Source:     a.Source,
			SHA256:     sum,
			Size:       size,
			CreatedAt:  now,
			LastAccess: now,
			Requires:   a.Requires,
		}
		idx.Entries[key] = e
		out = s.withPath(e)
		evictNeeded = s.overLimit(idx)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	observability.Cache().OnCacheSet(ctx, string(a.Kind), out.Size)
	s.logger.Debug("cached artifact", "package", a.Name, "version", a.Version, "source", a.Source, "size", out.Size)

	if evictNeeded {
		if _, err := s.Prune(ctx, s.limits); err != nil {
			s.logger.Warn("cache prune failed", "error", err)
		}
	}
	return out, nil
}

func (s *FileStore) overLimit(idx *indexFile) bool {
	if s.limits.MaxBytes <= 0 {
		return false
	}
	var total int64
	for _, e := range idx.Entries {
		total += e.Size
	}
	return total > s.limits.MaxBytes
}

// copyHashed copies src to dst and returns the sha256 and size of the copy.
func copyHashed(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Delete implements [Store].
func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.locked(ctx, func(idx *indexFile) (bool, error) {
		e, ok := idx.Entries[key]
		if !ok {
			return false, ErrMiss
		}
		delete(idx.Entries, key)
		observability.Cache().OnCacheEvict(ctx, "manual", e.Size)
		return true, os.RemoveAll(filepath.Join(s.objectsDir(), key))
	})
}

// List implements [Store]. Entries are sorted by kind, name and version.
func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := fsutil.RLock(ctx, s.lockPath())
	if err != nil {
		return nil, err
	}
	defer unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		out = append(out, *s.withPath(e))
	}
	SortEntries(out)
	return out, nil
}

// Prune implements [Store]. Entries created before now-MaxAge go first; then
// the least recently accessed entries are evicted until the total size is
// at most MaxBytes.
func (s *FileStore) Prune(ctx context.Context, opts PruneOptions) (PruneResult, error) {
	var res PruneResult
	err := s.locked(ctx, func(idx *indexFile) (bool, error) {
		var errs error
		evict := func(e Entry, reason string) bool {
			if err := s.removeAll(filepath.Join(s.objectsDir(), e.Key)); err != nil {
				errs = multierr.Append(errs, err)
				return false
			}
			delete(idx.Entries, e.Key)
			res.Removed = append(res.Removed, e)
			res.Freed += e.Size
			observability.Cache().OnCacheEvict(ctx, reason, e.Size)
			return true
		}

		if opts.MaxAge > 0 {
			cutoff := s.clock.Now().Add(-opts.MaxAge)
			for _, e := range idx.Entries {
				if e.CreatedAt.Before(cutoff) {
					evict(e, "age")
				}
			}
		}

		if opts.MaxBytes > 0 {
			entries := make([]Entry, 0, len(idx.Entries))
			var total int64
			for _, e := range idx.Entries {
				entries = append(entries, e)
				total += e.Size
			}
			slices.SortFunc(entries, func(a, b Entry) int { return a.LastAccess.Compare(b.LastAccess) })
			for _, e := range entries {
				if total <= opts.MaxBytes {
					break
				}
				// A file that could not be removed still occupies the disk.
				if evict(e, "size") {
					total -= e.Size
				}
			}
		}
		return len(res.Removed) > 0, errs
	})
	if len(res.Removed) > 0 {
		s.logger.Info("pruned cache", "entries", len(res.Removed), "freed", res.Freed)
	}
	return res, err
}

// Clear implements [Store].
func (s *FileStore) Clear(ctx context.Context) error {
	return s.locked(ctx, func(idx *indexFile) (bool, error) {
		var errs error
		for key, e := range idx.Entries {
			observability.Cache().OnCacheEvict(ctx, "manual", e.Size)
			delete(idx.Entries, key)
		}
		errs = multierr.Append(errs, os.RemoveAll(s.objectsDir()))
		errs = multierr.Append(errs, os.MkdirAll(s.objectsDir(), 0o755))
		return true, errs
	})
}

// Close implements [Store].
func (s *FileStore) Close() error { return nil }

// sweepTmp removes staging folders left behind by interrupted writers.
func (s *FileStore) sweepTmp() {
	entries, err := os.ReadDir(s.tmpDir())
	if err != nil {
		return
	}
	cutoff := s.clock.Now().Add(-staleTmp)
	for _, de := range entries {
		info, err := de.Info()
		if err == nil && info.ModTime().Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(s.tmpDir(), de.Name()))
		}
	}
}

var _ Store = (*FileStore)(nil)
