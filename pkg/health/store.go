package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/matzehuels/smoothdeps/pkg/fsutil"
)

// Store persists health records between processes. Losing them is harmless:
// sources are simply re-probed.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// MemoryStore keeps records in memory. Useful in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// Load returns a copy of the saved records.
func (s *MemoryStore) Load(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records), nil
}

// Save replaces the saved records.
func (s *MemoryStore) Save(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.Clone(records)
	return nil
}

// FileStore keeps records as JSON in a single file.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

type stateFile struct {
	Records []Record `json:"records"`
}

// Load reads the file. A missing or unreadable file yields no records.
func (s *FileStore) Load(ctx context.Context) ([]Record, error) {
	unlock, err := fsutil.RLock(ctx, s.path+".lock")
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		// Stale or truncated state is thrown away.
		return nil, nil
	}
	return f.Records, nil
}

// Save writes records atomically, sorted by source key.
func (s *FileStore) Save(ctx context.Context, records []Record) error {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b Record) int { return strings.Compare(a.Source, b.Source) })

	data, err := json.MarshalIndent(stateFile{Records: sorted}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode health state: %w", err)
	}

	unlock, err := fsutil.Lock(ctx, s.path+".lock")
	if err != nil {
		return err
	}
	defer unlock()
	return fsutil.WriteAtomic(s.path, data, 0o644)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
