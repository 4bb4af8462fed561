package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/smoothdeps/pkg/fsutil"
)

// FileStore appends records to a JSON Lines file.
type FileStore struct {
	path   string
	logger *log.Logger
}

// NewFileStore creates a store backed by path. The file is created on the
// first append.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the journal file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(ctx context.Context, r Record) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	unlock, err := fsutil.Lock(ctx, s.path+".lock")
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List reads the whole journal. Lines that fail to decode are skipped.
func (s *FileStore) List(ctx context.Context, q Query) ([]Record, error) {
	unlock, err := fsutil.RLock(ctx, s.path+".lock")
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for lineNo := 1; sc.Scan(); lineNo++ {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.logger.Debug("skipping history line", "line", lineNo, "err", err)
			continue
		}
		if q.Match(r) {
			out = append(out, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b Record) int { return a.Time.Compare(b.Time) })
	return limit(out, q.Limit), nil
}

// Close does nothing.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
