package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/validation"
)

// Initial is the snapshot taken right after seeding. Isolation scopes
// restore it before and after every test.
const Initial = "initial"

// Table is one table's rows in a snapshot file.
type Table struct {
	TableName string           `json:"tableName"`
	Rows      []map[string]any `json:"rows"`
}

// File is the on-disk snapshot format: a JSON array of tables.
type File []Table

// TableNames returns the names of the tables in the file, in file order.
func (f File) TableNames() []string {
	names := make([]string, len(f))
	for i, t := range f {
		names[i] = t.TableName
	}
	return names
}

// RowCount returns the total number of rows across all tables.
func (f File) RowCount() int {
	n := 0
	for _, t := range f {
		n += len(t.Rows)
	}
	return n
}

// FileStore persists snapshot files under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

// Path returns the resolved file path for a snapshot.
func (s *FileStore) Path(suiteID, name string) string {
	p := filepath.Join(s.root, suiteID, name+".json")
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func checkNames(suiteID, name string) error {
	if !validation.IsIdent(suiteID) {
		return errors.InvalidInput("suite_id", fmt.Sprintf("%q is not a valid suite id", suiteID))
	}
	if !validation.IsIdent(name) {
		return errors.InvalidInput("name", fmt.Sprintf("%q is not a valid snapshot name", name))
	}
	return nil
}

// Read loads a snapshot. A missing file yields SNAPSHOT_NOT_FOUND naming the
// suite and the resolved path.
func (s *FileStore) Read(suiteID, name string) (File, error) {
	if err := checkNames(suiteID, name); err != nil {
		return nil, err
	}
	path := s.Path(suiteID, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.SnapshotNotFound(suiteID, name, path)
		}
		return nil, errors.Internal(fmt.Errorf("read snapshot %s: %w", path, err))
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Internal(fmt.Errorf("decode snapshot %s: %w", path, err))
	}
	return f, nil
}

// Write stores a snapshot as pretty-printed JSON. The file is replaced
// atomically so a concurrent reader never sees a partial snapshot.
func (s *FileStore) Write(suiteID, name string, f File) (string, error) {
	if err := checkNames(suiteID, name); err != nil {
		return "", err
	}
	if f == nil {
		f = File{}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", errors.Internal(fmt.Errorf("encode snapshot: %w", err))
	}
	data = append(data, '\n')

	path := s.Path(suiteID, name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Internal(fmt.Errorf("create snapshot dir: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return "", errors.Internal(fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Internal(fmt.Errorf("write snapshot: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Internal(fmt.Errorf("write snapshot: %w", err))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Internal(fmt.Errorf("rename snapshot: %w", err))
	}
	return path, nil
}

// Exists reports whether a snapshot file is present.
func (s *FileStore) Exists(suiteID, name string) bool {
	if checkNames(suiteID, name) != nil {
		return false
	}
	_, err := os.Stat(s.Path(suiteID, name))
	return err == nil
}

// List returns the snapshot names stored for a suite, sorted.
func (s *FileStore) List(suiteID string) ([]string, error) {
	if !validation.IsIdent(suiteID) {
		return nil, errors.InvalidInput("suite_id", fmt.Sprintf("%q is not a valid suite id", suiteID))
	}
	entries, err := os.ReadDir(filepath.Join(s.root, suiteID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Internal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(n, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an error.
func (s *FileStore) Delete(suiteID, name string) error {
	if err := checkNames(suiteID, name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(suiteID, name)); err != nil && !os.IsNotExist(err) {
		return errors.Internal(err)
	}
	return nil
}

