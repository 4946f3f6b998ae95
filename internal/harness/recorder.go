package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/measure/internal/measure"
	"github.com/roach88/measure/internal/processor/googleanalytics"
	"github.com/roach88/measure/internal/storage/memory"
	"github.com/roach88/measure/internal/testutil"
)

// RecorderName is the registry name of the recording processor and storage.
const RecorderName = "recorder"

// Recorder construction options.
const (
	OptPersistTime = "persist_time"
	OptName        = "name"
)

// recording hands out instance ids and appends calls to the result trace.
// A run is single-threaded: the data layer drains on the pushing goroutine.
type recording struct {
	result    *Result
	clock     *testutil.ManualClock
	instances map[string]int
	clientIDs int
}

func newRecording(result *Result) *recording {
	return &recording{
		result:    result,
		clock:     testutil.NewManualClock(time.Time{}),
		instances: make(map[string]int),
	}
}

func (r *recording) nextInstance(kind string) string {
	r.instances[kind]++
	return fmt.Sprintf("%s#%d", kind, r.instances[kind])
}

type recorderProcessor struct {
	rec         *recording
	id          string
	persistTime measure.TTL
}

// namedRecorder keeps state on the page model under its name.
type namedRecorder struct {
	*recorderProcessor
	name string
}

func (n *namedRecorder) Name() string { return n.name }

func (r *recording) newProcessor(opts measure.Options) (measure.Processor, error) {
	ttl, ok, err := opts.TTL(OptPersistTime)
	if err != nil {
		return nil, err
	}
	if !ok {
		ttl = measure.StorageDefault
	}
	if err := ttl.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", OptPersistTime, err)
	}

	name, _, err := opts.String(OptName)
	if err != nil {
		return nil, err
	}

	p := &recorderProcessor{rec: r, id: r.nextInstance("processor"), persistTime: ttl}
	if name != "" {
		return &namedRecorder{recorderProcessor: p, name: name}, nil
	}
	return p, nil
}

func (p *recorderProcessor) PersistTime(key string, value any) measure.TTL {
	p.rec.result.record(TraceEvent{
		Call:     CallPersistTime,
		Instance: p.id,
		Key:      key,
		Value:    value,
		TTL:      p.persistTime,
	})
	return p.persistTime
}

func (p *recorderProcessor) ProcessEvent(_ context.Context, _ measure.Storage, _ measure.Model, eventName string, options measure.Options) error {
	p.rec.result.record(TraceEvent{
		Call:     CallProcessEvent,
		Instance: p.id,
		Event:    eventName,
		Options:  options.Clone(),
	})
	return nil
}

// recorderStorage is a memory storage under a frozen clock that records
// every call.
type recorderStorage struct {
	rec   *recording
	id    string
	inner *memory.Storage
}

func (r *recording) newStorage(opts measure.Options) (measure.Storage, error) {
	inner, err := memory.New(opts, memory.WithClock(r.clock.Now))
	if err != nil {
		return nil, err
	}
	return &recorderStorage{rec: r, id: r.nextInstance("storage"), inner: inner}, nil
}

func (s *recorderStorage) Load(ctx context.Context, key string) (any, bool, error) {
	value, found, err := s.inner.Load(ctx, key)
	s.rec.result.record(TraceEvent{
		Call:     CallLoad,
		Instance: s.id,
		Key:      key,
		Found:    found,
	})
	return value, found, err
}

func (s *recorderStorage) Save(ctx context.Context, key string, value any, ttl measure.TTL) error {
	s.rec.result.record(TraceEvent{
		Call:     CallSave,
		Instance: s.id,
		Key:      key,
		Value:    value,
		TTL:      ttl,
	})
	return s.inner.Save(ctx, key, value, ttl)
}

// hitRecorder is the googleAnalytics sender used by scenarios.
type hitRecorder struct {
	rec *recording
	id  string
}

func (h *hitRecorder) Send(_ context.Context, hit googleanalytics.Hit) error {
	h.rec.result.record(TraceEvent{
		Call:     CallSend,
		Instance: h.id,
		Event:    hit.EventName,
		Options:  measure.Options(hit.Body()),
	})
	return nil
}

// newAnalytics builds the real googleAnalytics processor with sequential
// client ids and a recording sender.
func (r *recording) newAnalytics(opts measure.Options) (measure.Processor, error) {
	sender := &hitRecorder{rec: r, id: r.nextInstance("processor")}
	p, err := googleanalytics.New(opts,
		googleanalytics.WithSender(sender),
		googleanalytics.WithClientIDGenerator(func() string {
			r.clientIDs++
			return fmt.Sprintf("client-%d", r.clientIDs)
		}))
	if err != nil {
		return nil, err
	}
	return p, nil
}
