package harness

import (
	"github.com/roach88/measure/internal/measure"
)

// Call names recorded in the trace.
const (
	CallPersistTime  = "persist_time"
	CallProcessEvent = "process_event"
	CallLoad         = "load"
	CallSave         = "save"
	CallSend         = "send"
)

// TraceEvent is one processor, storage or sender call.
type TraceEvent struct {
	Call     string
	Instance string
	Key      string
	Value    any
	TTL      measure.TTL
	Event    string
	Options  measure.Options
	Found    bool
	Seq      int
}

// Fields returns the event as a map for canonical encoding and subset
// matching. Only fields meaningful for the call are included.
func (e TraceEvent) Fields() map[string]any {
	m := map[string]any{
		"call":     e.Call,
		"instance": e.Instance,
		"seq":      e.Seq,
	}
	switch e.Call {
	case CallPersistTime, CallSave:
		m["key"] = e.Key
		m["value"] = e.Value
		m["ttl"] = e.TTL
	case CallLoad:
		m["key"] = e.Key
		m["found"] = e.Found
	case CallProcessEvent, CallSend:
		m["event"] = e.Event
		m["options"] = map[string]any(e.Options)
	}
	return m
}

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Trace lists every recorded call in order.
	Trace []TraceEvent

	// Model is the final page model.
	Model map[string]any

	// LoggedErrors counts ERROR records logged during the run.
	LoggedErrors int

	// Errors holds assertion failures.
	Errors []string
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Model:  map[string]any{},
		Errors: []string{},
	}
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}
