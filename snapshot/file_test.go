package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kbukum/e2ekit/errors"
)

func sampleFile() File {
	return File{
		{TableName: "participant", Rows: []map[string]any{
			{"id": json.Number("1"), "name": "Ada", "meta": map[string]any{"tags": []any{"a"}}},
		}},
		{TableName: "protocol", Rows: []map[string]any{}},
	}
}

func TestFileStore_WriteReadRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	path, err := store.Write("dashboard", "initial", sampleFile())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join("dashboard", "initial.json")) {
		t.Errorf("unexpected path %s", path)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "\n  {\n    \"tableName\": \"participant\"") {
		t.Errorf("expected pretty-printed JSON, got:\n%s", data)
	}

	got, err := store.Read("dashboard", "initial")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 || got.RowCount() != 1 {
		t.Fatalf("unexpected file: %+v", got)
	}
	if id, ok := got[0].Rows[0]["id"].(json.Number); !ok || id.String() != "1" {
		t.Errorf("expected json.Number id, got %#v", got[0].Rows[0]["id"])
	}
	if names := got.TableNames(); names[0] != "participant" || names[1] != "protocol" {
		t.Errorf("unexpected table order %v", names)
	}
}

func TestFileStore_ReadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Read("dashboard", "nope")
	if !errors.HasCode(err, errors.ErrCodeSnapshotNotFound) {
		t.Fatalf("expected SNAPSHOT_NOT_FOUND, got %v", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "dashboard") || !strings.Contains(msg, store.Path("dashboard", "nope")) {
		t.Errorf("error should name the suite and path: %s", msg)
	}
}

func TestFileStore_RejectsUnsafeNames(t *testing.T) {
	store := NewFileStore(t.TempDir())
	tests := []struct {
		suite, name string
	}{
		{"../etc", "initial"},
		{"dashboard", "../../x"},
		{"", "initial"},
		{"dashboard", "a/b"},
	}
	for _, tt := range tests {
		if _, err := store.Write(tt.suite, tt.name, File{}); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
			t.Errorf("Write(%q, %q): expected INVALID_INPUT, got %v", tt.suite, tt.name, err)
		}
		if store.Exists(tt.suite, tt.name) {
			t.Errorf("Exists(%q, %q) should be false", tt.suite, tt.name)
		}
	}
}

func TestFileStore_ListExistsDelete(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, n := range []string{"initial", "after-login", "a"} {
		if _, err := store.Write("s1", n, File{}); err != nil {
			t.Fatalf("Write %s: %v", n, err)
		}
	}

	names, err := store.List("s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != "a,after-login,initial" {
		t.Errorf("unexpected list %v", names)
	}
	if empty, _ := store.List("unknown"); len(empty) != 0 {
		t.Errorf("expected empty list for unknown suite, got %v", empty)
	}

	if !store.Exists("s1", "a") {
		t.Error("expected a to exist")
	}
	if err := store.Delete("s1", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists("s1", "a") {
		t.Error("expected a to be gone")
	}
	if err := store.Delete("s1", "a"); err != nil {
		t.Errorf("deleting a missing snapshot should succeed, got %v", err)
	}
}

func TestFileStore_OverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	for i := 0; i < 3; i++ {
		if _, err := store.Write("s1", "initial", sampleFile()); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "s1"))
	if len(entries) != 1 {
		t.Errorf("expected a single snapshot file, found %d entries", len(entries))
	}
}
