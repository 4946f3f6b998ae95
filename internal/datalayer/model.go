package datalayer

import (
	"strings"
	"sync"

	"github.com/roach88/measure/internal/measure"
)

// Model is the data layer's keyed page model: short-lived, page-scoped state
// that processors read and write while handling events.
//
// Keys are dotted paths. Get("a.b") reads the "b" entry of the map stored
// under "a"; Set("a.b", v) creates intermediate maps as needed. A key that
// exists literally at the top level (dots included) takes precedence on Get.
//
// Model implements measure.Model and is safe for concurrent use.
type Model struct {
	mu    sync.RWMutex
	state map[string]any
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{state: make(map[string]any)}
}

// Get returns the value at key, or nil when nothing is stored there.
func (m *Model) Get(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.state[key]; ok {
		return v
	}

	parts := strings.Split(key, ".")
	var cur any = m.state
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[p]
		if !ok {
			return nil
		}
	}
	return cur
}

// Set stores value at key, replacing any non-map value on the path.
func (m *Model) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.Split(key, ".")
	obj := m.state
	for _, p := range parts[:len(parts)-1] {
		next, ok := obj[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			obj[p] = next
		}
		obj = next
	}
	obj[parts[len(parts)-1]] = cloneValue(value)
}

// Merge recursively merges state into the model. Nested maps are merged key
// by key; any other value replaces what was there.
func (m *Model) Merge(state map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mergeInto(m.state, state)
}

// Snapshot returns a deep copy of the whole model.
func (m *Model) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneValue(m.state).(map[string]any)
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := asStringMap(v)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			continue
		}
		dst[k] = cloneValue(v)
	}
}

// cloneValue deep-copies maps and slices so the model never aliases a
// caller's containers.
func cloneValue(v any) any {
	if obj, ok := asStringMap(v); ok {
		out := make(map[string]any, len(obj))
		for k, child := range obj {
			out[k] = cloneValue(child)
		}
		return out
	}
	if arr, ok := v.([]any); ok {
		out := make([]any, len(arr))
		for i, child := range arr {
			out[i] = cloneValue(child)
		}
		return out
	}
	return v
}

func asStringMap(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case measure.Options:
		return obj, true
	}
	return nil, false
}
