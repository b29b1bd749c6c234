// Package registry is the in-process capability registry. Components look
// their collaborators up by name on every call, so registration order does
// not matter and a missing capability degrades instead of failing.
package registry

import "sync"

// Capability names.
const (
	Store         = "memory.store"
	Memorability  = "memory.memorability"
	Boundaries    = "memory.boundaries"
	Consolidation = "memory.consolidation"
	Compression   = "memory.compression"
	Temporal      = "memory.temporal"
	Capture       = "memory.capture"
	Injector      = "memory.injector"
)

// Registry maps capability names to implementations.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]any
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{caps: map[string]any{}}
}

// Register binds name to impl, replacing any previous binding.
func (r *Registry) Register(name string, impl any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[name] = impl
}

// Unregister removes name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caps, name)
}

// Lookup returns the implementation bound to name.
func (r *Registry) Lookup(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.caps[name]
	return impl, ok
}

// Names returns the registered capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.caps))
	for name := range r.caps {
		out = append(out, name)
	}
	return out
}

// Resolve looks name up and asserts it to T. It reports false when the
// capability is missing or has the wrong type.
func Resolve[T any](r *Registry, name string) (T, bool) {
	var zero T
	impl, ok := r.Lookup(name)
	if !ok {
		return zero, false
	}
	t, ok := impl.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
