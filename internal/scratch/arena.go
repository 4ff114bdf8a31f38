// Package scratch manages the per-run working area that extracted images are
// written into before they are relocated next to their records.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/spherical/roster-ingest/internal/domain"
)

// Arena is the scratch area of one pipeline run, rooted at <root>/<run id>.
type Arena struct {
	runID string
	dir   string
}

// NewArena creates the run directory under root. An empty runID gets a fresh uuid.
// A pre-populated directory from an earlier run with the same id is reused as is.
func NewArena(root, runID string) (*Arena, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.FilesystemError(fmt.Sprintf("create scratch arena %s", dir), err)
	}
	return &Arena{runID: runID, dir: dir}, nil
}

// RunID returns the run identifier.
func (a *Arena) RunID() string { return a.runID }

// Dir returns the arena directory.
func (a *Arena) Dir() string { return a.dir }

// Namespace returns the scratch directory of the index-th document of the run.
func (a *Arena) Namespace(index int, documentPath string) (*Namespace, error) {
	base := strings.TrimSuffix(filepath.Base(documentPath), filepath.Ext(documentPath))
	dir := filepath.Join(a.dir, fmt.Sprintf("%d-%s", index, base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.FilesystemError(fmt.Sprintf("create scratch namespace %s", dir), err)
	}
	return &Namespace{dir: dir}, nil
}

// Remove deletes the arena and everything in it.
func (a *Arena) Remove() error {
	return os.RemoveAll(a.dir)
}

// Namespace is the scratch directory of a single document.
type Namespace struct {
	dir string
}

// Dir returns the namespace directory.
func (n *Namespace) Dir() string { return n.dir }

// Path returns the path of name inside the namespace.
func (n *Namespace) Path(name string) string {
	return filepath.Join(n.dir, name)
}

// Write stores data under name, replacing any file left by a prior run.
func (n *Namespace) Write(name string, data []byte) (string, error) {
	path := n.Path(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", domain.FilesystemError(fmt.Sprintf("write %s", path), err)
	}
	return path, nil
}
