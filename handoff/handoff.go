// Package handoff reads and writes the context file that setup leaves for
// test workers. Workers are separate processes, so the file is the only way
// they learn the control-plane address and each suite's URLs.
package handoff

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/e2ekit/errors"
	"github.com/kbukum/e2ekit/validation"
)

const (
	// DefaultPath is used when EnvPath is unset.
	DefaultPath = ".e2ekit/context.json"
	// EnvPath overrides the file location.
	EnvPath = "E2EKIT_CONTEXT_FILE"
)

// Suite is one suite's entry in the hand-off file.
type Suite struct {
	SuiteID     string                 `json:"suiteId" validate:"required,ident"`
	AppURL      string                 `json:"appUrl" validate:"omitempty,url"`
	DatabaseURL string                 `json:"databaseUrl" validate:"required"`
	TestData    map[string]interface{} `json:"testData,omitempty"`
}

// Document is the hand-off file content.
type Document struct {
	ControlPlaneURL string    `json:"controlPlaneUrl" validate:"omitempty,url"`
	CreatedAt       time.Time `json:"createdAt"`
	RunID           string    `json:"runId,omitempty"`
	Suites          []Suite   `json:"suites" validate:"dive"`
}

// Suite returns the entry for suiteID.
func (d *Document) Suite(suiteID string) (Suite, bool) {
	for _, s := range d.Suites {
		if s.SuiteID == suiteID {
			return s, true
		}
	}
	return Suite{}, false
}

// IDs returns the suite ids in sorted order.
func (d *Document) IDs() []string {
	ids := make([]string, 0, len(d.Suites))
	for _, s := range d.Suites {
		ids = append(ids, s.SuiteID)
	}
	sort.Strings(ids)
	return ids
}

// Path returns the hand-off file location from the environment, or
// DefaultPath.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

// Read loads and validates the document at path.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFound("context file", path).
			WithDetail("hint", "run `e2ekit up` or orchestrator.Setup before the tests")
	}
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("read context file: %w", err))
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.InvalidInput("context_file", fmt.Sprintf("%s: %v", path, err))
	}
	if err := validation.Validate(doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads the document at Path().
func Load() (*Document, error) {
	return Read(Path())
}

// Writer rewrites the hand-off file atomically. Concurrent writes are
// serialized; readers see either the old or the new document.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates a Writer for path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the file location.
func (w *Writer) Path() string { return w.path }

// Write validates doc and replaces the file.
func (w *Writer) Write(doc Document) error {
	if err := validation.Validate(doc); err != nil {
		return err
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	sort.Slice(doc.Suites, func(i, j int) bool { return doc.Suites[i].SuiteID < doc.Suites[j].SuiteID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Internal(fmt.Errorf("encode context file: %w", err))
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Internal(fmt.Errorf("create context dir: %w", err))
	}
	tmp, err := os.CreateTemp(dir, ".context-*.tmp")
	if err != nil {
		return errors.Internal(fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Internal(fmt.Errorf("write context file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errors.Internal(fmt.Errorf("write context file: %w", err))
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		return errors.Internal(fmt.Errorf("rename context file: %w", err))
	}
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (w *Writer) Remove() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
