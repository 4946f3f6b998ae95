// Package registry maps short names to processor and storage constructors.
//
// A Registry is written by host startup code and read by the factory.
// Entries are stored as untyped values: whether a value can actually build
// a processor or storage is checked when it is used, not when it is
// registered.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/measure/internal/measure"
)

// Kind selects which table a name lives in.
type Kind string

const (
	KindProcessor Kind = "processor"
	KindStorage   Kind = "storage"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindProcessor || k == KindStorage
}

// ParseKind converts a user supplied kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q (want %q or %q)", s, KindProcessor, KindStorage)
	}
	return k, nil
}

// ProcessorConstructor builds a processor from its construction options.
type ProcessorConstructor = func(measure.Options) (measure.Processor, error)

// StorageConstructor builds a storage from its construction options.
type StorageConstructor = func(measure.Options) (measure.Storage, error)

// Registry holds name to constructor tables for each kind.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]any
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: map[Kind]map[string]any{
			KindProcessor: {},
			KindStorage:   {},
		},
	}
}

// Register adds or overwrites the entry for name. ctor is not inspected; an
// unusable value fails later, when the factory tries to build from it.
// The only error is an unknown kind.
func (r *Registry) Register(kind Kind, name string, ctor any) error {
	if !kind.Valid() {
		return fmt.Errorf("register %q: unknown kind %q", name, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind][name] = ctor
	return nil
}

// RegisterProcessor is the typed form of Register for processors.
func (r *Registry) RegisterProcessor(name string, ctor ProcessorConstructor) {
	_ = r.Register(KindProcessor, name, ctor)
}

// RegisterStorage is the typed form of Register for storages.
func (r *Registry) RegisterStorage(name string, ctor StorageConstructor) {
	_ = r.Register(KindStorage, name, ctor)
}

// Resolve returns the entry registered under name, and false when there is
// none.
func (r *Registry) Resolve(kind Kind, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.entries[kind][name]
	return ctor, ok
}

// Names lists the registered names of kind in sorted order.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries[kind]))
}

// Clone returns an independent copy. Hosts and tests use it to add entries
// without touching the process-wide Default.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := New()
	for kind, table := range r.entries {
		maps.Copy(out.entries[kind], table)
	}
	return out
}
