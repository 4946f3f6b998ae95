package factory

import (
	"fmt"
	"reflect"
	"runtime"
)

// Ref is a constructor reference: either a name resolved through the
// registry (ByName) or a constructor value used as-is (Direct).
type Ref struct {
	name   string
	ctor   any
	byName bool
}

// ByName refers to a registry entry.
func ByName(name string) Ref {
	return Ref{name: name, byName: true}
}

// Direct refers to a constructor value. Whether it really is a constructor
// is checked when building.
func Direct(ctor any) Ref {
	return Ref{ctor: ctor}
}

// RefOf converts a loosely typed command argument: a string becomes ByName,
// an existing Ref is returned unchanged, anything else becomes Direct.
func RefOf(v any) Ref {
	switch val := v.(type) {
	case Ref:
		return val
	case string:
		return ByName(val)
	default:
		return Direct(val)
	}
}

// IsName reports whether the reference is by name.
func (r Ref) IsName() bool {
	return r.byName
}

// Name returns the registry name for ByName references, or "".
func (r Ref) Name() string {
	return r.name
}

// String describes the reference for logs and errors.
func (r Ref) String() string {
	if r.byName {
		return fmt.Sprintf("%q", r.name)
	}
	if r.ctor == nil {
		return "<nil>"
	}
	rv := reflect.ValueOf(r.ctor)
	if rv.Kind() == reflect.Func {
		if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
			return fn.Name()
		}
	}
	return fmt.Sprintf("%T", r.ctor)
}
