package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// LogRecord is one captured log entry with its attributes flattened.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that keeps every record in memory so tests
// can assert on what a component logged.
//
// Thread-safety: safe for concurrent use; handlers derived with WithAttrs
// and WithGroup share the same record list.
type LogRecorder struct {
	mu      *sync.Mutex
	records *[]LogRecord
	attrs   []slog.Attr
}

// NewLogRecorder creates an empty recorder.
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{
		mu:      &sync.Mutex{},
		records: &[]LogRecord{},
	}
}

// NewLogger returns a logger writing to a fresh recorder at DEBUG level.
func NewLogger() (*slog.Logger, *LogRecorder) {
	rec := NewLogRecorder()
	return slog.New(rec), rec
}

func (r *LogRecorder) Enabled(context.Context, slog.Level) bool {
	return true
}

func (r *LogRecorder) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]any, len(r.attrs)+record.NumAttrs())
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = append(*r.records, LogRecord{
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
	})
	return nil
}

func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(r.attrs)+len(attrs))
	merged = append(merged, r.attrs...)
	merged = append(merged, attrs...)
	return &LogRecorder{mu: r.mu, records: r.records, attrs: merged}
}

// WithGroup is accepted but groups are not tracked; attribute keys stay flat.
func (r *LogRecorder) WithGroup(string) slog.Handler {
	return r
}

// Records returns a copy of everything captured so far.
func (r *LogRecorder) Records() []LogRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogRecord, len(*r.records))
	copy(out, *r.records)
	return out
}

// AtLevel returns the records logged at exactly level.
func (r *LogRecorder) AtLevel(level slog.Level) []LogRecord {
	var out []LogRecord
	for _, rec := range r.Records() {
		if rec.Level == level {
			out = append(out, rec)
		}
	}
	return out
}

// Count returns how many records were logged at exactly level.
func (r *LogRecorder) Count(level slog.Level) int {
	return len(r.AtLevel(level))
}

// Reset drops all captured records.
func (r *LogRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.records = (*r.records)[:0]
}
