package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pannadata/consolidator/dataset"
)

// ErrNotFound is returned when no consolidated batch exists for a coordinate.
var ErrNotFound = errors.New("consolidated batch not found")

// ConsolidatedStore persists one deduplicated batch per coordinate:
//   - <root>/<table>/<group>/<sub_group>.parquet
//   - <root>/<table>/<group>.parquet for tables consolidated per group
//
// Replacement is atomic; a failed write leaves the previous file in place.
type ConsolidatedStore struct {
	root  string
	locks sync.Map // map[string]*pathLock
}

type pathLock struct {
	mu sync.RWMutex
}

// NewConsolidatedStore creates a store rooted at root
func NewConsolidatedStore(root string) (*ConsolidatedStore, error) {
	if root == "" {
		return nil, errors.New("root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create consolidated dir %s: %w", root, err)
	}
	return &ConsolidatedStore{root: root}, nil
}

// Path returns the file holding the consolidated batch of coord
func (s *ConsolidatedStore) Path(coord dataset.Coordinate) string {
	if coord.SubGroup == "" {
		return filepath.Join(s.root, coord.Table, coord.Group+partitionExt)
	}
	return filepath.Join(s.root, coord.Table, coord.Group, coord.SubGroup+partitionExt)
}

// Load reads the consolidated batch of coord, ErrNotFound when absent.
func (s *ConsolidatedStore) Load(coord dataset.Coordinate) (*dataset.Batch, error) {
	path := s.Path(coord)
	lock := s.getLock(path)
	lock.mu.RLock()
	defer lock.mu.RUnlock()

	batch, err := ReadBatchFile(path, coord)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return batch, nil
}

// Replace atomically overwrites the consolidated batch of coord.
func (s *ConsolidatedStore) Replace(coord dataset.Coordinate, b *dataset.Batch) error {
	if b == nil {
		return errors.New("nil batch")
	}
	path := s.Path(coord)
	lock := s.getLock(path)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	return WriteBatchFile(path, b)
}

// ModTime returns the modification time of the consolidated file of coord,
// ErrNotFound when absent.
func (s *ConsolidatedStore) ModTime(coord dataset.Coordinate) (time.Time, error) {
	info, err := os.Stat(s.Path(coord))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *ConsolidatedStore) getLock(path string) *pathLock {
	lock, ok := s.locks.Load(path)
	if ok {
		return lock.(*pathLock)
	}
	newLock := &pathLock{}
	actual, _ := s.locks.LoadOrStore(path, newLock)
	return actual.(*pathLock)
}
