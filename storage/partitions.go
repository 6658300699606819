package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pannadata/consolidator/dataset"
)

const partitionExt = ".parquet"

// Tagging names the columns the reader injects so downstream consumers do
// not derive group and sub-group from file placement.
type Tagging struct {
	GroupField    string
	SubGroupField string
}

// ReadFailure describes a partition file that could not be read. The file is
// excluded from the merge input; the scan continues.
type ReadFailure struct {
	Path string
	Err  error
}

func (f ReadFailure) Error() string {
	return fmt.Sprintf("read partition %s: %v", f.Path, f.Err)
}

// PartitionFile is one append-only file found under a coordinate.
type PartitionFile struct {
	Path       string
	Coordinate dataset.Coordinate
	ModTime    time.Time
}

// PartitionReader locates and loads partition files laid out as
//
//	<root>/<table>/<group>/<sub_group>.parquet      single file per sub-group
//	<root>/<table>/<group>/<sub_group>/*.parquet    append-only run files
type PartitionReader struct {
	root    string
	tagging Tagging
	debug   bool
}

// NewPartitionReader creates a reader rooted at root
func NewPartitionReader(root string, tagging Tagging, debug bool) *PartitionReader {
	return &PartitionReader{root: root, tagging: tagging, debug: debug}
}

func (r *PartitionReader) Root() string {
	return r.root
}

// Tables lists the table types that have a directory under root.
func (r *PartitionReader) Tables() ([]string, error) {
	return listDirs(r.root)
}

// Coordinates lists every (group, sub_group) holding partitions for table.
func (r *PartitionReader) Coordinates(table string) ([]dataset.Coordinate, error) {
	groups, err := listDirs(filepath.Join(r.root, table))
	if err != nil {
		return nil, err
	}

	var out []dataset.Coordinate
	for _, group := range groups {
		files, err := r.Files(dataset.Coordinate{Table: table, Group: group})
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		for _, f := range files {
			if seen[f.Coordinate.SubGroup] {
				continue
			}
			seen[f.Coordinate.SubGroup] = true
			out = append(out, f.Coordinate)
		}
	}
	return out, nil
}

// Files lists the partition files of coord in read order: by sub-group,
// the single sub-group file first, then run files by name. A coordinate
// without a sub-group covers every sub-group of its group.
func (r *PartitionReader) Files(coord dataset.Coordinate) ([]PartitionFile, error) {
	groupDir := filepath.Join(r.root, coord.Table, coord.Group)

	var subGroups []string
	if coord.SubGroup != "" {
		subGroups = []string{coord.SubGroup}
	} else {
		entries, err := os.ReadDir(groupDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("list %s: %w", groupDir, err)
		}
		seen := make(map[string]bool)
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			if !e.IsDir() {
				if !strings.HasSuffix(name, partitionExt) {
					continue
				}
				name = strings.TrimSuffix(name, partitionExt)
			}
			if !seen[name] {
				seen[name] = true
				subGroups = append(subGroups, name)
			}
		}
		sort.Strings(subGroups)
	}

	var out []PartitionFile
	for _, sub := range subGroups {
		c := dataset.Coordinate{Table: coord.Table, Group: coord.Group, SubGroup: sub}

		single := filepath.Join(groupDir, sub+partitionExt)
		if info, err := os.Stat(single); err == nil && !info.IsDir() {
			out = append(out, PartitionFile{Path: single, Coordinate: c, ModTime: info.ModTime()})
		}

		runDir := filepath.Join(groupDir, sub)
		if info, err := os.Stat(runDir); err != nil || !info.IsDir() {
			continue
		}
		entries, err := os.ReadDir(runDir)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", runDir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, partitionExt) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, PartitionFile{Path: filepath.Join(runDir, name), Coordinate: c, ModTime: info.ModTime()})
		}
	}
	return out, nil
}

// Newest returns the latest modification time among the files of coord,
// zero when there are none.
func (r *PartitionReader) Newest(coord dataset.Coordinate) (time.Time, error) {
	files, err := r.Files(coord)
	if err != nil {
		return time.Time{}, err
	}
	var newest time.Time
	for _, f := range files {
		if f.ModTime.After(newest) {
			newest = f.ModTime
		}
	}
	return newest, nil
}

// Scan starts a lazy pass over the partition files of coord. Files are
// decoded one at a time as Next is called.
func (r *PartitionReader) Scan(coord dataset.Coordinate) (*PartitionScanner, error) {
	files, err := r.Files(coord)
	if err != nil {
		return nil, err
	}
	return &PartitionScanner{reader: r, files: files}, nil
}

// PartitionScanner iterates the partition files of one coordinate. It is
// finite and cannot be restarted.
type PartitionScanner struct {
	reader   *PartitionReader
	files    []PartitionFile
	pos      int
	current  *dataset.Batch
	file     PartitionFile
	failures []ReadFailure
}

// Next loads the next readable partition file. Unreadable files are
// recorded as failures and skipped.
func (s *PartitionScanner) Next() bool {
	for s.pos < len(s.files) {
		f := s.files[s.pos]
		s.pos++

		batch, err := ReadBatchFile(f.Path, f.Coordinate)
		if err != nil {
			failure := ReadFailure{Path: f.Path, Err: err}
			s.failures = append(s.failures, failure)
			log.Printf("action: read_partition | result: fail | coordinate: %s | file: %s | error: %v",
				f.Coordinate, f.Path, err)
			continue
		}

		if s.reader.tagging.GroupField != "" {
			batch.SetColumn(s.reader.tagging.GroupField, f.Coordinate.Group)
		}
		if s.reader.tagging.SubGroupField != "" {
			batch.SetColumn(s.reader.tagging.SubGroupField, f.Coordinate.SubGroup)
		}

		if s.reader.debug {
			log.Printf("action: read_partition | result: success | coordinate: %s | file: %s | record_count: %d",
				f.Coordinate, f.Path, batch.Len())
		}

		s.current = batch
		s.file = f
		return true
	}
	s.current = nil
	return false
}

// Batch returns the batch loaded by the last successful Next
func (s *PartitionScanner) Batch() *dataset.Batch {
	return s.current
}

// File returns the file loaded by the last successful Next
func (s *PartitionScanner) File() PartitionFile {
	return s.file
}

// Failures returns the files skipped so far
func (s *PartitionScanner) Failures() []ReadFailure {
	return s.failures
}

// PartitionWriter appends new partition files. Existing files are never
// rewritten.
type PartitionWriter struct {
	root string
	now  func() time.Time
}

// NewPartitionWriter creates a writer rooted at root
func NewPartitionWriter(root string) *PartitionWriter {
	return &PartitionWriter{root: root, now: time.Now}
}

// Write stores b as a new run file under its coordinate and returns the
// path. File names sort in write order.
func (w *PartitionWriter) Write(b *dataset.Batch) (string, error) {
	c := b.Coordinate
	if c.Table == "" || c.Group == "" || c.SubGroup == "" {
		return "", fmt.Errorf("partition coordinate %q is incomplete", c)
	}

	name := fmt.Sprintf("%s-%s%s",
		w.now().UTC().Format("20060102T150405.000000000Z"),
		uuid.NewString()[:8],
		partitionExt)
	path := filepath.Join(w.root, c.Table, c.Group, c.SubGroup, name)

	if err := WriteBatchFile(path, b); err != nil {
		return "", err
	}
	return path, nil
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
