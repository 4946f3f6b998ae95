// Package factory turns constructor references into live processors and
// storages.
//
// Building never panics past this package. Every failure is logged at ERROR
// with the reference and parameters and returned as an *Error:
//
//	name not in registry   -> RESOLUTION_FAILED, then construction is
//	                          attempted with no constructor, which fails
//	                          uniformly as CONSTRUCTION_FAILED
//	constructor fails       -> CONSTRUCTION_FAILED (error, panic, nil
//	                          result, or a value that is not a constructor)
package factory

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/measure/internal/measure"
	"github.com/roach88/measure/internal/registry"
)

// Factory resolves references against a registry and builds instances.
type Factory struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// Option configures a Factory.
type Option func(*Factory)

// WithRegistry sets the registry names are resolved against.
// Default: registry.Default.
func WithRegistry(r *registry.Registry) Option {
	return func(f *Factory) {
		if r != nil {
			f.registry = r
		}
	}
}

// WithLogger sets the logger for build failures. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates a factory.
func New(opts ...Option) *Factory {
	f := &Factory{
		registry: registry.Default,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Registry returns the registry the factory resolves names against.
func (f *Factory) Registry() *registry.Registry {
	return f.registry
}

// BuildProcessor builds a processor from ref with params.
func (f *Factory) BuildProcessor(ref Ref, params measure.Options) (measure.Processor, error) {
	return build[measure.Processor](f, registry.KindProcessor, ref, params)
}

// BuildStorage builds a storage from ref with params.
func (f *Factory) BuildStorage(ref Ref, params measure.Options) (measure.Storage, error) {
	return build[measure.Storage](f, registry.KindStorage, ref, params)
}

func build[T any](f *Factory, kind registry.Kind, ref Ref, params measure.Options) (T, error) {
	var zero T

	ctor := ref.ctor
	var resolveErr error
	if ref.byName {
		resolved, ok := f.registry.Resolve(kind, ref.name)
		if !ok {
			resolveErr = &Error{Code: ErrCodeResolution, Kind: kind, Ref: ref, Params: params}
			f.logger.Error("no constructor registered under name",
				"kind", kind,
				"name", ref.name)
		}
		ctor = resolved
	}

	inst, err := construct[T](ctor, params.Clone())
	if err != nil {
		if resolveErr != nil {
			err = resolveErr
		}
		buildErr := &Error{Code: ErrCodeConstruction, Kind: kind, Ref: ref, Params: params, Err: err}
		f.logger.Error("could not construct instance",
			"kind", kind,
			"constructor", ref.String(),
			"params", params,
			"error", err)
		return zero, buildErr
	}
	return inst, nil
}

// construct calls ctor with params, converting every failure mode into an
// error.
func construct[T any](ctor any, params measure.Options) (inst T, err error) {
	var zero T
	defer func() {
		if r := recover(); r != nil {
			inst, err = zero, fmt.Errorf("constructor panicked: %v", r)
		}
	}()

	switch c := ctor.(type) {
	case nil:
		return zero, errors.New("no constructor")
	case func(measure.Options) (T, error):
		inst, err = c(params)
	case func(measure.Options) T:
		inst = c(params)
	default:
		inst, err = constructReflect[T](ctor, params)
	}
	if err != nil {
		return zero, err
	}
	if isNil(inst) {
		return zero, errors.New("constructor returned nil")
	}
	return inst, nil
}

// constructReflect accepts any func(measure.Options) R or
// func(measure.Options) (R, error) whose R satisfies T, so constructors may
// return their concrete type.
func constructReflect[T any](ctor any, params measure.Options) (T, error) {
	var zero T
	want := reflect.TypeFor[T]()
	errType := reflect.TypeFor[error]()

	fn := reflect.ValueOf(ctor)
	ft := fn.Type()
	if ft.Kind() != reflect.Func || ft.IsVariadic() || ft.NumIn() != 1 ||
		!reflect.TypeFor[measure.Options]().AssignableTo(ft.In(0)) {
		return zero, fmt.Errorf("%T is not a constructor", ctor)
	}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errType:
	default:
		return zero, fmt.Errorf("%T is not a constructor", ctor)
	}
	if !ft.Out(0).AssignableTo(want) {
		return zero, fmt.Errorf("%T builds %s, which does not implement %s", ctor, ft.Out(0), want)
	}

	out := fn.Call([]reflect.Value{reflect.ValueOf(params)})
	if len(out) == 2 && !out[1].IsNil() {
		return zero, out[1].Interface().(error)
	}
	if isNil(out[0].Interface()) {
		return zero, errors.New("constructor returned nil")
	}
	return out[0].Interface().(T), nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
