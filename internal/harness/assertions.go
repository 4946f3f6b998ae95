package harness

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/measure/internal/canonical"
	"github.com/roach88/measure/internal/measure"
)

// AssertionError describes a failed assertion with the trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		buf.WriteString((&Result{Trace: e.Trace}).Summary())
	}
	return buf.String()
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(r.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(r.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(r.Trace, a)
	case AssertModel:
		return assertModel(r.Model, a)
	case AssertLoggedErrors:
		if r.LoggedErrors != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d errors logged", a.Count),
				Actual:   fmt.Sprintf("%d errors logged", r.LoggedErrors),
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains looks for a call whose fields include a.Fields.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, e := range trace {
		if e.Call == a.Call && matchSubset(e.Fields(), a.Fields) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s with %v", a.Call, a.Fields),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of a.Calls appear in
// order. Other calls may come between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for _, e := range trace {
		if _, seen := positions[e.Call]; !seen {
			positions[e.Call] = e.Seq
		}
	}

	for _, call := range a.Calls {
		if _, ok := positions[call]; !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("all calls present: %v", a.Calls),
				Actual:   fmt.Sprintf("missing call: %s", call),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Calls); i++ {
		prev, curr := a.Calls[i-1], a.Calls[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("calls in order: %v", a.Calls),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Call == a.Call {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Call),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertModel(model map[string]any, a Assertion) error {
	actual, ok := lookup(model, a.Key)
	if !ok && a.Value == nil {
		return nil
	}
	if !ok || !valuesEqual(actual, a.Value) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s = %v", a.Key, a.Value),
			Actual:   fmt.Sprintf("%s = %v", a.Key, actual),
		}
	}
	return nil
}

// lookup resolves a dotted key on a model snapshot the way the model does:
// a literal top-level key wins over a path.
func lookup(model map[string]any, key string) (any, bool) {
	if v, ok := model[key]; ok {
		return v, true
	}
	var cur any = model
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// matchSubset reports whether every expected entry is present in actual.
// Nested maps match as subsets too.
func matchSubset(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok {
			return false
		}
		wantMap, wantIsMap := want.(map[string]any)
		gotMap, gotIsMap := measure.AsOptions(got)
		if wantIsMap && gotIsMap {
			if !matchSubset(gotMap, wantMap) {
				return false
			}
			continue
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a recorded value with one decoded from YAML. TTLs
// compare numerically so that .inf and "Infinity" both match Forever;
// everything else compares by canonical JSON so that 10 matches 10.0.
func valuesEqual(actual, expected any) bool {
	if ttl, ok := actual.(measure.TTL); ok {
		want, err := measure.ParseTTL(expected)
		return err == nil && want == ttl
	}

	a, errA := canonical.Marshal(actual)
	b, errB := canonical.Marshal(expected)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(actual, expected)
	}
	return bytes.Equal(a, b)
}
