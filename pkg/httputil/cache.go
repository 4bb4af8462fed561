package httputil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/matzehuels/smoothdeps/pkg/fsutil"
)

// ErrExpired is returned by [Cache.Get] when an entry exists but is older
// than the cache TTL. The stale file is left in place; callers refetch and
// call [Cache.Set].
var ErrExpired = errors.New("cache entry expired")

// Cache stores JSON-encoded registry responses (simple-index pages,
// packuments) on disk so repeated lookups against a mirror avoid the network.
//
// Entry filenames are the SHA-256 of the namespaced key. Writes go to a
// temporary file that is renamed into place, so concurrent processes sharing
// the directory never observe a half-written entry. A TTL of 0 disables
// expiry.
//
// Use [Cache.Namespace] to keep keys from different mirrors apart:
//
//	tsinghua := cache.Namespace("pip/pypi-tsinghua:")
//	tsinghua.Set("requests", page)
type Cache struct {
	dir    string
	ttl    time.Duration
	prefix string
}

// NewCache creates a Cache rooted at dir with the given TTL.
// An empty dir selects ~/.cache/smoothdeps/http.
func NewCache(dir string, ttl time.Duration) (*Cache, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".cache", "smoothdeps", "http")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, ttl: ttl}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// TTL returns the entry time-to-live. Zero means entries never expire.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get loads the entry for key into v.
//
//   - (true, nil): hit, v is populated.
//   - (false, nil): miss.
//   - (false, ErrExpired): the entry is stale.
//   - (false, err): I/O or decode failure.
func (c *Cache) Get(key string, v any) (bool, error) {
	path := c.keyPath(c.prefix + key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		return false, ErrExpired
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		_ = os.Remove(path)
		return false, err
	}
	return true, nil
}

// Set stores v under key, replacing any previous entry and refreshing its TTL.
func (c *Cache) Set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(c.keyPath(c.prefix+key), data, 0o644)
}

// Delete removes the entry for key. Missing entries are not an error.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.keyPath(c.prefix + key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Namespace returns a view of the cache whose keys are prefixed with prefix.
// Namespaces nest: c.Namespace("pip:").Namespace("tsinghua:").
func (c *Cache) Namespace(prefix string) *Cache {
	return &Cache{
		dir:    c.dir,
		ttl:    c.ttl,
		prefix: c.prefix + prefix,
	}
}

func (c *Cache) keyPath(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(h[:]))
}
