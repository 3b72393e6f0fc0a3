package panel

import (
	"fmt"
	"sort"
	"sync"
)

// PathSetter is implemented by adapters whose path table can be replaced
// at runtime.
type PathSetter interface {
	Paths() *PathTable
	SetPaths(*PathTable)
}

// Registry selects an Adapter by panel type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

// NewRegistry returns a registry containing adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Type]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Type()] = a
	}
	return r
}

// DefaultRegistry returns a registry with every built-in adapter and its
// default path table.
func DefaultRegistry() *Registry {
	return NewRegistry(NewBT(nil), NewOnePanel(nil), NewBearer(nil))
}

// Register adds or replaces the adapter for a.Type().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get returns the adapter for t.
func (r *Registry) Get(t Type) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("%q: %w", t, ErrUnknownPanelType)
	}
	return a, nil
}

// Types lists the registered panel types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// OverridePaths replaces the path table for t with the built-in defaults
// overlaid by mappings (and root, when non-empty). Calling it again with
// the same input yields the same table.
func (r *Registry) OverridePaths(t Type, root string, mappings map[string]string) error {
	a, err := r.Get(t)
	if err != nil {
		return err
	}
	ps, ok := a.(PathSetter)
	if !ok {
		return fmt.Errorf("adapter %q does not support path overrides", t)
	}
	ps.SetPaths(DefaultPaths(t).Merge(root, mappings))
	return nil
}

// DefaultPaths returns the built-in path table for t.
func DefaultPaths(t Type) *PathTable {
	switch t {
	case TypeBT:
		return NewPathTable("", DefaultBTPaths)
	case TypeOnePanel:
		return NewPathTable(onePanelRoot, DefaultOnePanelPaths)
	default:
		return NewPathTable("", nil)
	}
}
