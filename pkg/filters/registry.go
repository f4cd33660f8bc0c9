// Package filters holds the concrete algorithms: sources for every data
// kind, structured and unstructured filters, composite-aware filters and
// scripted kernels. The Registry builds them by name from parameter maps.
package filters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gridflow/gridflow/pkg/pipeline"
)

// Factory builds an algorithm from its parameters.
type Factory func(Params) (pipeline.Algorithm, error)

type entry struct {
	factory Factory
	script  bool
}

// Registry maps algorithm type names to factories.
type Registry struct {
	// mu protects entries.
	mu sync.RWMutex

	entries map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// DefaultRegistry returns a registry with every built-in algorithm.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegister("wavelet", newWavelet, false)
	r.mustRegister("mesh", newMesh, false)
	r.mustRegister("amr", newAMR, false)
	r.mustRegister("multiblock", newMultiBlock, false)
	r.mustRegister("shift-scale", newShiftScale, false)
	r.mustRegister("extract-subset", newExtractSubset, false)
	r.mustRegister("histogram", newHistogram, false)
	r.mustRegister("time-shift", newTimeShift, false)
	r.mustRegister("ghost-cells", newGhostCells, false)
	r.mustRegister("remove-ghosts", newRemoveGhosts, false)
	r.mustRegister("global-ids", newGlobalIDs, false)
	r.mustRegister("redistribute", newRedistribute, false)
	r.mustRegister("append", newAppend, false)
	r.mustRegister("block-statistics", newBlockStatistics, false)
	r.mustRegister("programmable", newProgrammable, true)
	r.mustRegister("wasm-kernel", newWasmKernel, true)
	return r
}

// Register adds a factory. Script factories run user-supplied code and are
// subject to the script admission policy.
func (r *Registry) Register(name string, f Factory, script bool) error {
	if name == "" || f == nil {
		return fmt.Errorf("algorithm name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("algorithm %s already registered", name)
	}
	r.entries[name] = entry{factory: f, script: script}
	return nil
}

func (r *Registry) mustRegister(name string, f Factory, script bool) {
	if err := r.Register(name, f, script); err != nil {
		panic(err)
	}
}

// New builds the algorithm registered as name.
func (r *Registry) New(name string, p Params) (pipeline.Algorithm, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown algorithm type %q", name)
	}
	if p == nil {
		p = Params{}
	}
	alg, err := e.factory(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return alg, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// IsScript reports whether name runs user-supplied code.
func (r *Registry) IsScript(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].script
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
