package servicemanager

import (
	"fmt"
	"sort"
	"sync"
)

// TypeRegistry is the write-once, process-wide catalog of installable
// service types. Registration happens at startup; lookups are lock-free in
// spirit (an RWMutex with read-dominant traffic) thereafter.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]ServiceType
}

// NewTypeRegistry returns an empty catalog.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]ServiceType)}
}

// Register adds a service type. Returns an error if the name is already taken.
func (r *TypeRegistry) Register(t ServiceType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Name]; exists {
		return fmt.Errorf("service type %q already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// Get looks up a service type by name.
func (r *TypeRegistry) Get(name string) (ServiceType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// List returns every registered type, sorted by name.
func (r *TypeRegistry) List() []ServiceType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DefaultTypeRegistry returns a catalog pre-populated with the built-in
// service types: the Python sandbox, the graph store, and the memory store.
func DefaultTypeRegistry(deps Dependencies) *TypeRegistry {
	reg := NewTypeRegistry()
	_ = reg.Register(ServiceType{
		Name:        "python",
		Description: "Process-isolated Python sandbox with persistent variable state across calls.",
		Factory:     newPythonSandbox,
	})
	_ = reg.Register(ServiceType{
		Name:        "graph",
		Description: "CRUD store for workflow-graph documents plus a minimal graph_run executor.",
		Factory:     newGraphService,
	})
	_ = reg.Register(ServiceType{
		Name:        "memory",
		Description: "Session memory operations (store, search, consolidate, forget) exposed as tools.",
		Factory: func(config map[string]any) (Service, error) {
			return newMemoryService(deps.MemoryBackend, config)
		},
	})
	return reg
}
