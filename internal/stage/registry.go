package stage

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownRunner is returned when a runner name has not been registered.
var ErrUnknownRunner = errors.New("stage runner not registered")

// RunnerInfo pairs a runner name with its capabilities.
type RunnerInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds the stage runners available to the pipeline.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register adds a runner under the given name, replacing any previous one.
func (r *Registry) Register(name string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[name] = runner
}

// Get returns the runner registered under name.
func (r *Registry) Get(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunner, name)
	}
	return runner, nil
}

// List returns all registered runners sorted by name.
func (r *Registry) List() []RunnerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]RunnerInfo, 0, len(r.runners))
	for name, runner := range r.runners {
		infos = append(infos, RunnerInfo{
			Name:         name,
			Capabilities: runner.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
