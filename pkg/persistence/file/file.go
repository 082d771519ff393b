// Package file provides file-based persistence for workflows, executions,
// test cases and test runs. It is intended for development and tests; status
// transitions are serialized through a process-wide mutex, which makes the
// compare-and-set guarantees hold within a single process only.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flowprobe/flowprobe/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   sync.Mutex // guards every mutation; CAS correctness depends on it

	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	testCaseRepo  *TestCaseRepository
	testRunRepo   *TestRunRepository
}

// NewPersistence creates a new instance of Persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{p: p}
	p.executionRepo = &ExecutionRepository{p: p}
	p.testCaseRepo = &TestCaseRepository{p: p}
	p.testRunRepo = &TestRunRepository{p: p}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) TestCaseRepository() persistence.TestCaseRepository {
	return fp.testCaseRepo
}

func (fp *Persistence) TestRunRepository() persistence.TestRunRepository {
	return fp.testRunRepo
}

// entityPath returns the JSON document path for one record of a collection.
func (fp *Persistence) entityPath(collection, id string) string {
	return filepath.Join(fp.root, collection, id+".json")
}

// writeEntity marshals a record into its JSON document, creating the
// collection directory on first use.
func (fp *Persistence) writeEntity(collection, id string, entity any) error {
	dir := filepath.Join(fp.root, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	if err := os.WriteFile(fp.entityPath(collection, id), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return nil
}

// readEntity unmarshals one record. Returns os.ErrNotExist when the document is absent.
func (fp *Persistence) readEntity(collection, id string, entity any) error {
	data, err := os.ReadFile(fp.entityPath(collection, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, entity); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return nil
}

// listIDs returns the record ids present in a collection directory.
func (fp *Persistence) listIDs(collection string) ([]string, error) {
	root := os.DirFS(filepath.Join(fp.root, collection))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", collection, err)
	}

	ids := make([]string, 0, len(jsonFiles))
	for _, file := range jsonFiles {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

// deleteEntity removes one record; missing documents are reported via os.ErrNotExist.
func (fp *Persistence) deleteEntity(collection, id string) error {
	return os.Remove(fp.entityPath(collection, id))
}
