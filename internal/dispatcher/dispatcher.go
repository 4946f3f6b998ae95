// Package dispatcher connects the data layer to one active processor and
// storage pair.
//
// A config command builds the pair through the factory and, only if both
// build, replaces the set and event handlers on the data layer. A failed
// config leaves whatever was active before untouched. Because handlers
// registered during config replay the set and event commands the data layer
// parked, observable behavior does not depend on whether config arrived
// before or after them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"

	"github.com/roach88/measure/internal/datalayer"
	"github.com/roach88/measure/internal/factory"
	"github.com/roach88/measure/internal/measure"
)

// ErrConfigurationAborted is returned by Configure when the processor or the
// storage could not be built.
var ErrConfigurationAborted = errors.New("configuration aborted")

// ErrInvalidArgs is returned by command handlers for malformed arguments.
var ErrInvalidArgs = errors.New("invalid command arguments")

// Dispatcher holds the active processor, storage and configured event
// options for one data layer.
//
// Thread-safety: handlers run one at a time on the data layer; the mutex
// guards the active pair against concurrent readers such as Active.
type Dispatcher struct {
	dl      *datalayer.DataLayer
	factory *factory.Factory
	logger  *slog.Logger

	mu           sync.RWMutex
	processor    measure.Processor
	storage      measure.Storage
	eventOptions measure.Options
	generation   int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFactory sets the factory used to build processors and storages.
// Default: factory.New().
func WithFactory(f *factory.Factory) Option {
	return func(d *Dispatcher) {
		if f != nil {
			d.factory = f
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a dispatcher for dl. No handlers are registered until Install
// or Configure is called.
func New(dl *datalayer.DataLayer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		dl:     dl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.factory == nil {
		d.factory = factory.New(factory.WithLogger(d.logger))
	}
	return d
}

// Install registers the config handler and starts the data layer, replaying
// everything queued before it. This is the library-loaded entry point; it is
// safe to call before or after commands were pushed.
func (d *Dispatcher) Install(ctx context.Context) {
	d.dl.RegisterProcessor(ctx, datalayer.CommandConfig, d.onConfig)
	d.dl.Process(ctx)
}

// Configure builds the processor and storage and, if both succeed, makes
// them the active pair and registers the set and event handlers. On failure
// the previous pair, if any, stays active and an error wrapping
// ErrConfigurationAborted is returned.
func (d *Dispatcher) Configure(ctx context.Context, processorRef factory.Ref, eventOptions measure.Options, storageRef factory.Ref, storageOptions measure.Options) error {
	processor, procErr := d.factory.BuildProcessor(processorRef, eventOptions)
	storage, storeErr := d.factory.BuildStorage(storageRef, storageOptions)
	if err := errors.Join(procErr, storeErr); err != nil {
		d.logger.Warn("configuration aborted, keeping previous processors",
			"processor", processorRef.String(),
			"storage", storageRef.String())
		return fmt.Errorf("%w: %w", ErrConfigurationAborted, err)
	}

	d.RegisterHandlers(ctx, processor, storage, eventOptions)
	return nil
}

// RegisterHandlers makes (processor, storage) the active pair and registers
// the set and event handlers, replacing any registered before.
func (d *Dispatcher) RegisterHandlers(ctx context.Context, processor measure.Processor, storage measure.Storage, eventOptions measure.Options) {
	d.mu.Lock()
	previous := d.storage
	d.processor = processor
	d.storage = storage
	d.eventOptions = eventOptions.Clone()
	d.generation++
	gen := d.generation
	d.mu.Unlock()

	if previous != nil && !sameInstance(previous, storage) {
		d.closeStorage(previous)
	}

	d.logger.Info("processors configured",
		"processor", fmt.Sprintf("%T", processor),
		"storage", fmt.Sprintf("%T", storage),
		"generation", gen)

	d.dl.RegisterProcessor(ctx, datalayer.CommandSet, d.onSet)
	d.dl.RegisterProcessor(ctx, datalayer.CommandEvent, d.onEvent)
}

// Active returns the active pair, or nils before the first successful
// configuration.
func (d *Dispatcher) Active() (measure.Processor, measure.Storage) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.processor, d.storage
}

// Generation counts successful configurations.
func (d *Dispatcher) Generation() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

func (d *Dispatcher) active() (measure.Processor, measure.Storage, measure.Options) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.processor, d.storage, d.eventOptions
}

// Set applies the persistence policy to one key. A nil ttl asks the
// processor; DoNotPersist saves nothing; anything else is passed to the
// storage, StorageDefault included.
func (d *Dispatcher) Set(ctx context.Context, key string, value any, ttl *measure.TTL) error {
	processor, storage, _ := d.active()
	if processor == nil {
		return errors.New("set before configuration")
	}

	var secondsToLive measure.TTL
	if ttl != nil {
		secondsToLive = *ttl
	} else {
		secondsToLive = processor.PersistTime(key, value)
	}

	if secondsToLive == measure.DoNotPersist {
		return nil
	}
	if err := secondsToLive.Validate(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if err := storage.Save(ctx, key, value, secondsToLive); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Event merges, in increasing precedence, the processor's extra options
// from the page model, the configured event options, and options, then
// forwards the event to the processor. The merge is shallow.
func (d *Dispatcher) Event(ctx context.Context, name string, options measure.Options) error {
	processor, storage, eventOptions := d.active()
	if processor == nil {
		return errors.New("event before configuration")
	}

	merged := measure.Merge(d.extraOptions(processor), eventOptions, options)
	if err := processor.ProcessEvent(ctx, storage, d.dl.Model(), name, merged); err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}
	return nil
}

// extraOptions reads processor state from the model under its name. Only
// processors implementing measure.Namer have any.
func (d *Dispatcher) extraOptions(processor measure.Processor) measure.Options {
	namer, ok := processor.(measure.Namer)
	if !ok {
		return nil
	}
	raw := d.dl.Model().Get(namer.Name())
	extra, ok := measure.AsOptions(raw)
	if !ok {
		d.logger.Warn("ignoring extra options that are not an object",
			"processor", namer.Name(),
			"type", fmt.Sprintf("%T", raw))
		return nil
	}
	return extra
}

// Close releases the active storage if it holds resources.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	storage := d.storage
	d.mu.Unlock()
	if c, ok := storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// closeStorage closes a storage dropped by re-configuration.
func (d *Dispatcher) closeStorage(storage measure.Storage) {
	c, ok := storage.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		d.logger.Warn("failed to close replaced storage",
			"storage", fmt.Sprintf("%T", storage),
			"error", err)
	}
}

func sameInstance(a, b measure.Storage) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
