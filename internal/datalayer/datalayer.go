package datalayer

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/measure/internal/measure"
)

// DataLayer is an ordered command queue with named handlers and a page model.
//
// Commands pushed before Process is called, or before a handler for their
// name is registered, are held and replayed in push order. See the package
// documentation for the full ordering contract.
type DataLayer struct {
	mu       sync.Mutex
	clock    *Clock
	queue    *commandQueue
	parked   []Command
	handlers map[string]Handler
	model    *Model
	logger   *slog.Logger

	started  bool
	draining bool
	closed   bool

	// unparkPending is set when a handler registers while a command is being
	// handled; parked commands are re-queued once that command completes.
	unparkPending bool

	// configHandled is set once a config command has run. From then on
	// parked set and event commands no longer hold back model updates.
	configHandled bool
}

// Option configures a DataLayer.
type Option func(*DataLayer)

// WithLogger sets the logger used for handler failures and parking.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(dl *DataLayer) {
		if logger != nil {
			dl.logger = logger
		}
	}
}

// WithModel shares an existing model instead of creating an empty one.
func WithModel(m *Model) Option {
	return func(dl *DataLayer) {
		if m != nil {
			dl.model = m
		}
	}
}

// WithClock sets the sequence clock, e.g. to continue numbering from a
// previous data layer.
func WithClock(c *Clock) Option {
	return func(dl *DataLayer) {
		if c != nil {
			dl.clock = c
		}
	}
}

// New creates a data layer that holds commands until Process is called.
func New(opts ...Option) *DataLayer {
	dl := &DataLayer{
		clock:    NewClock(),
		queue:    newCommandQueue(),
		handlers: make(map[string]Handler),
		model:    NewModel(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(dl)
	}
	return dl
}

// Model returns the page model handlers read and write.
func (dl *DataLayer) Model() *Model {
	return dl.model
}

// Push appends cmd to the queue, stamping its sequence number. When the data
// layer has started and no other goroutine is draining, Push drains the queue
// before returning. Push called from inside a handler only enqueues; the
// command runs after the current one completes.
//
// Returns false if the data layer is closed.
func (dl *DataLayer) Push(ctx context.Context, cmd Command) bool {
	dl.mu.Lock()
	if dl.closed {
		dl.mu.Unlock()
		return false
	}
	cmd.Seq = dl.clock.Next()
	if cmd.Args != nil {
		cmd.Args = slices.Clone(cmd.Args)
	}
	dl.queue.Enqueue(cmd)
	drain := dl.beginDrainLocked()
	dl.mu.Unlock()

	if drain {
		dl.drain(ctx)
	}
	return true
}

// Process marks the data layer as started and drains everything queued so
// far. Calling Process again is harmless.
func (dl *DataLayer) Process(ctx context.Context) {
	dl.mu.Lock()
	dl.started = true
	drain := dl.beginDrainLocked()
	dl.mu.Unlock()

	if drain {
		dl.drain(ctx)
	}
}

// RegisterProcessor sets the handler for command name, replacing any handler
// registered before. Parked commands that now have a handler are replayed in
// their original order: immediately when called outside a handler, or right
// after the current command when called from inside one.
func (dl *DataLayer) RegisterProcessor(ctx context.Context, name string, h Handler) {
	dl.mu.Lock()
	dl.handlers[name] = h
	if dl.draining {
		dl.unparkPending = true
		dl.mu.Unlock()
		return
	}
	dl.unparkLocked()
	drain := dl.beginDrainLocked()
	dl.mu.Unlock()

	if drain {
		dl.drain(ctx)
	}
}

// HasHandler reports whether a handler is registered for name.
func (dl *DataLayer) HasHandler(name string) bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	_, ok := dl.handlers[name]
	return ok
}

// Parked returns the commands waiting for a handler, in sequence order.
func (dl *DataLayer) Parked() []Command {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return slices.Clone(dl.parked)
}

// Pending returns the commands queued but not yet handled.
func (dl *DataLayer) Pending() []Command {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.queue.Snapshot()
}

// Close rejects further pushes. Commands already queued stay queued.
func (dl *DataLayer) Close() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.closed = true
}

func (dl *DataLayer) beginDrainLocked() bool {
	if !dl.started || dl.draining {
		return false
	}
	dl.draining = true
	return true
}

// unparkLocked moves parked commands whose name now has a handler back to
// the head of the queue, ordered by sequence number.
func (dl *DataLayer) unparkLocked() {
	if len(dl.parked) == 0 {
		return
	}
	slices.SortFunc(dl.parked, func(a, b Command) int {
		return cmp.Compare(a.Seq, b.Seq)
	})

	var ready, still []Command
	blocked := false
	for _, c := range dl.parked {
		var ok bool
		if c.Name == CommandState {
			// A model update waits for every earlier parked command so
			// replayed handlers see the model as it was when they were pushed.
			ok = !blocked
		} else {
			_, ok = dl.handlers[c.Name]
			blocked = blocked || (!ok && dl.awaitsHandlerLocked(c.Name))
		}
		if ok {
			ready = append(ready, c)
		} else {
			still = append(still, c)
		}
	}
	if len(ready) == 0 {
		return
	}
	dl.parked = still
	dl.queue.PushFront(ready)
}

// parkedBeforeLocked reports whether a model update pushed at seq must wait:
// an earlier model update is parked, or an earlier command is parked whose
// handler can still arrive.
func (dl *DataLayer) parkedBeforeLocked(seq int64) bool {
	for _, c := range dl.parked {
		if c.Seq < seq && (c.Name == CommandState || dl.awaitsHandlerLocked(c.Name)) {
			return true
		}
	}
	return false
}

// awaitsHandlerLocked reports whether a parked command named name can still
// be given a handler by a config command that has not run yet. Names nothing
// registers, and set or event left parked by a failed config, do not hold
// back the model.
func (dl *DataLayer) awaitsHandlerLocked(name string) bool {
	return !dl.configHandled && (name == CommandSet || name == CommandEvent)
}

// drain runs queued commands one at a time until the queue is empty or ctx
// is done. The caller must have set draining.
func (dl *DataLayer) drain(ctx context.Context) {
	for {
		dl.mu.Lock()
		if ctx.Err() != nil {
			dl.draining = false
			pending := dl.queue.Len()
			dl.mu.Unlock()
			dl.logger.Info("data layer drain stopped: context cancelled",
				"pending", pending)
			return
		}
		if dl.unparkPending {
			dl.unparkPending = false
			dl.unparkLocked()
		}
		cmd, ok := dl.queue.TryDequeue()
		if !ok {
			dl.draining = false
			dl.mu.Unlock()
			return
		}
		if cmd.Name == CommandState && !dl.parkedBeforeLocked(cmd.Seq) {
			dl.mu.Unlock()
			dl.applyState(cmd)
			continue
		}
		h, found := dl.handlers[cmd.Name]
		if !found || cmd.Name == CommandState {
			dl.parked = append(dl.parked, cmd)
			dl.mu.Unlock()
			dl.logger.Debug("command parked until a handler registers",
				"command", cmd.Name,
				"seq", cmd.Seq)
			continue
		}
		dl.mu.Unlock()

		dl.invoke(ctx, cmd, h)

		if cmd.Name == CommandConfig {
			dl.mu.Lock()
			if !dl.configHandled {
				dl.configHandled = true
				dl.unparkPending = true
			}
			dl.mu.Unlock()
		}
	}
}

// invoke runs one handler. Errors and panics are logged and swallowed so the
// next command still runs.
func (dl *DataLayer) invoke(ctx context.Context, cmd Command, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			dl.logger.Error("command handler panicked",
				"command", cmd.Name,
				"seq", cmd.Seq,
				"panic", fmt.Sprint(r))
		}
	}()

	if err := h(ctx, cmd.Args); err != nil {
		dl.logger.Error("command handler failed",
			"command", cmd.Name,
			"seq", cmd.Seq,
			"error", err)
	}
}

func (dl *DataLayer) applyState(cmd Command) {
	if len(cmd.Args) != 1 {
		dl.logger.Warn("state update ignored: expected one object argument",
			"seq", cmd.Seq,
			"args", len(cmd.Args))
		return
	}
	state, ok := measure.AsOptions(cmd.Args[0])
	if !ok {
		dl.logger.Warn("state update ignored: argument is not an object",
			"seq", cmd.Seq,
			"type", fmt.Sprintf("%T", cmd.Args[0]))
		return
	}
	dl.model.Merge(state)
}
