package action

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Registry indexes descriptors by name and by procedure number.
//
// A Registry is filled at start-up and read concurrently afterwards. It is
// safe for concurrent use, but registering while calls are in flight is not
// something the rest of the system expects.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	byProc map[uint32]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
		byProc: make(map[uint32]*Descriptor),
	}
}

// Register validates d and adds a private copy of it.
//
// Returns an error if the descriptor is inconsistent, or if its name or
// procedure number is already taken.
func (r *Registry) Register(d Descriptor) (*Descriptor, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byName[d.Name]; ok {
		return nil, fmt.Errorf("action %s already registered with proc %d", d.Name, prev.ProcNr)
	}
	if prev, ok := r.byProc[d.ProcNr]; ok {
		return nil, fmt.Errorf("action %s: procedure number %d already used by %s", d.Name, d.ProcNr, prev.Name)
	}

	c := d
	c.Args = slices.Clone(d.Args)
	c.OptArgs = slices.Clone(d.OptArgs)
	r.byName[c.Name] = &c
	r.byProc[c.ProcNr] = &c
	return &c, nil
}

// MustRegister is Register that panics on error. For static tables.
func (r *Registry) MustRegister(d Descriptor) *Descriptor {
	p, err := r.Register(d)
	if err != nil {
		panic(err)
	}
	return p
}

// Lookup returns the descriptor with the given name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// ByProc returns the descriptor with the given procedure number.
func (r *Registry) ByProc(nr uint32) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byProc[nr]
	return d, ok
}

// All returns every descriptor ordered by procedure number.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.byProc))
	for _, d := range r.byProc {
		out = append(out, d)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Descriptor) int {
		return cmp.Compare(a.ProcNr, b.ProcNr)
	})
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byProc)
}
