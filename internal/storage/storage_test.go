package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/measure/internal/registry"
)

func TestRegisterBuiltins(t *testing.T) {
	reg := registry.New()
	RegisterBuiltins(reg)

	assert.Equal(t, []string{"memory", "sqlite"}, reg.Names(registry.KindStorage))
	assert.Empty(t, reg.Names(registry.KindProcessor))
	assert.Empty(t, registry.Default.Names(registry.KindStorage), "Default is left alone")
}
