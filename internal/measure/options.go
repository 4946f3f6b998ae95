package measure

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Options is a bag of named parameters. It is used for processor and storage
// construction parameters, per-event options, and processor extra options
// read from the page model.
type Options map[string]any

// Merge performs a shallow merge of layers in increasing precedence: a key in
// a later layer overwrites the same key from an earlier one, and keys absent
// from later layers are kept. Nil layers are skipped. The result is always a
// fresh non-nil map; no layer is modified.
func Merge(layers ...Options) Options {
	size := 0
	for _, layer := range layers {
		size += len(layer)
	}
	result := make(Options, size)
	for _, layer := range layers {
		maps.Copy(result, layer)
	}
	return result
}

// AsOptions converts a loosely typed value to Options. nil converts to an
// empty bag; map[string]any and Options convert directly. Anything else
// reports false.
func AsOptions(v any) (Options, bool) {
	switch val := v.(type) {
	case nil:
		return Options{}, true
	case Options:
		return val, true
	case map[string]any:
		return Options(val), true
	case map[string]string:
		opts := make(Options, len(val))
		for k, s := range val {
			opts[k] = s
		}
		return opts, true
	default:
		return nil, false
	}
}

// Clone returns a shallow copy of o.
func (o Options) Clone() Options {
	return Merge(o)
}

// String returns the string stored under key. The second result reports
// whether the key was present; a present non-string value is an error.
func (o Options) String(key string) (string, bool, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", true, fmt.Errorf("option %q: expected string, got %T", key, raw)
	}
	return s, true, nil
}

// Float returns the number stored under key.
func (o Options) Float(key string) (float64, bool, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch val := raw.(type) {
	case float64:
		return val, true, nil
	case float32:
		return float64(val), true, nil
	case int:
		return float64(val), true, nil
	case int64:
		return float64(val), true, nil
	case int32:
		return float64(val), true, nil
	case uint64:
		return float64(val), true, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("option %q: %w", key, err)
		}
		return f, true, nil
	case TTL:
		return float64(val), true, nil
	default:
		return 0, true, fmt.Errorf("option %q: expected number, got %T", key, raw)
	}
}

// TTL returns the TTL stored under key, accepting every form ParseTTL does.
func (o Options) TTL(key string) (TTL, bool, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	ttl, err := ParseTTL(raw)
	if err != nil {
		return 0, true, fmt.Errorf("option %q: %w", key, err)
	}
	return ttl, true, nil
}

// Bool returns the boolean stored under key.
func (o Options) Bool(key string) (bool, bool, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return false, false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, true, fmt.Errorf("option %q: expected bool, got %T", key, raw)
	}
	return b, true, nil
}

// Map returns the nested bag stored under key.
func (o Options) Map(key string) (Options, bool, error) {
	raw, ok := o[key]
	if !ok || raw == nil {
		return nil, false, nil
	}
	nested, ok := AsOptions(raw)
	if !ok {
		return nil, true, fmt.Errorf("option %q: expected object, got %T", key, raw)
	}
	return nested, true, nil
}
