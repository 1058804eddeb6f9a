// Package workdir manages the scoped, job-exclusive working directories that
// hold pipeline artifacts, and the retention policy that reclaims them.
package workdir

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/seantiz/cairoprove/internal/model"
)

// Artifact file names inside a job directory.
const (
	ArtifactProgram      = "program.json"
	ArtifactInput        = "input.json"
	ArtifactTrace        = "trace.core"
	ArtifactMemory       = "memory.core"
	ArtifactPublicInput  = "public_input.json"
	ArtifactPrivateInput = "private_input.json"
	ArtifactParams       = "params.json"
	ArtifactProof        = "proof.json"
)

// dirPrefix marks directories owned by a Manager so the sweeper never touches
// anything else under the root.
const dirPrefix = "job-"

// ErrAllocation is returned when a working directory cannot be created.
var ErrAllocation = errors.New("workdir allocation failed")

type state int

const (
	stateActive state = iota
	statePromoted
	stateReleased
)

// Manager allocates job directories under a root and tracks which of them are
// still owned by a running pipeline.
type Manager struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewManager creates a manager rooted at root, creating the directory if needed.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workdir root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir root: %w", err)
	}
	return &Manager{
		root:   abs,
		logger: logger,
		active: make(map[string]struct{}),
	}, nil
}

// Root returns the absolute directory under which job directories are created.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh, uniquely named directory and returns a handle that
// owns it. The caller must either Promote or Release the handle.
func (m *Manager) Acquire() (*Dir, error) {
	path := filepath.Join(m.root, dirPrefix+model.NewID())
	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	m.mu.Lock()
	m.active[path] = struct{}{}
	m.mu.Unlock()

	return &Dir{path: path, m: m}, nil
}

// Contains reports whether path names a job directory directly under the root.
func (m *Manager) Contains(path string) bool {
	clean := filepath.Clean(path)
	return filepath.Dir(clean) == m.root && strings.HasPrefix(filepath.Base(clean), dirPrefix)
}

func (m *Manager) isActive(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[path]
	return ok
}

func (m *Manager) deactivate(path string) {
	m.mu.Lock()
	delete(m.active, path)
	m.mu.Unlock()
}

// Dir is a handle on one job's working directory. Its state moves from active
// to either promoted (ownership passes to the retention sweeper) or released
// (the directory is deleted). Both transitions are one-way.
type Dir struct {
	path string
	m    *Manager

	mu    sync.Mutex
	state state
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Artifact resolves a named artifact inside the directory.
func (d *Dir) Artifact(name string) string {
	return filepath.Join(d.path, name)
}

// Promote keeps the directory on disk past the end of the job so its artifacts
// can be retrieved. Cleanup becomes the retention sweeper's responsibility.
func (d *Dir) Promote() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateActive {
		return
	}
	d.state = statePromoted
	d.m.deactivate(d.path)
}

// Promoted reports whether the directory was handed to the retention policy.
func (d *Dir) Promoted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == statePromoted
}

// Release deletes the directory and everything in it unless it was promoted.
// Calling Release more than once is safe.
func (d *Dir) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateActive {
		return nil
	}
	d.state = stateReleased
	d.m.deactivate(d.path)

	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("remove workdir %s: %w", d.path, err)
	}
	return nil
}
