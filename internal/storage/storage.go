// Package storage registers the storages shipped with the measure host.
//
// The core registry carries no storages. Hosts opt in at startup by calling
// RegisterBuiltins on the registry their factory resolves against.
package storage

import (
	"github.com/roach88/measure/internal/registry"
	"github.com/roach88/measure/internal/storage/memory"
	"github.com/roach88/measure/internal/storage/sqlite"
)

// RegisterBuiltins adds the memory and sqlite storages to reg.
func RegisterBuiltins(reg *registry.Registry) {
	reg.RegisterStorage(memory.Name, memory.Constructor)
	reg.RegisterStorage(sqlite.Name, sqlite.Constructor)
}
