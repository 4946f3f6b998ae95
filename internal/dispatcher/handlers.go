package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/measure/internal/factory"
	"github.com/roach88/measure/internal/measure"
)

// onConfig handles config(processorRef, eventOptions, storageRef,
// storageOptions). A string reference is a registry name; anything else is
// used as a constructor. Missing option bags are empty.
//
// A failed build is not returned: the factory has already logged it and the
// previous configuration stays in effect.
func (d *Dispatcher) onConfig(ctx context.Context, args []any) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: config needs a processor, event options and a storage, got %d args", ErrInvalidArgs, len(args))
	}

	eventOptions, err := optionsArg(args, 1)
	if err != nil {
		return fmt.Errorf("config event options: %w", err)
	}
	storageOptions, err := optionsArg(args, 3)
	if err != nil {
		return fmt.Errorf("config storage options: %w", err)
	}

	err = d.Configure(ctx, factory.RefOf(args[0]), eventOptions, factory.RefOf(args[2]), storageOptions)
	if errors.Is(err, ErrConfigurationAborted) {
		return nil
	}
	return err
}

// onSet handles set(key, value, secondsToLive?). An absent or null
// secondsToLive lets the processor decide.
func (d *Dispatcher) onSet(ctx context.Context, args []any) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: set needs a key", ErrInvalidArgs)
	}
	key, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("%w: set key must be a string, got %T", ErrInvalidArgs, args[0])
	}

	var value any
	if len(args) > 1 {
		value = args[1]
	}

	var ttl *measure.TTL
	if len(args) > 2 && args[2] != nil {
		parsed, err := measure.ParseTTL(args[2])
		if err != nil {
			return fmt.Errorf("%w: set %q: %w", ErrInvalidArgs, key, err)
		}
		ttl = &parsed
	}

	return d.Set(ctx, key, value, ttl)
}

// onEvent handles event(name, options?).
func (d *Dispatcher) onEvent(ctx context.Context, args []any) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: event needs a name", ErrInvalidArgs)
	}
	name, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("%w: event name must be a string, got %T", ErrInvalidArgs, args[0])
	}
	options, err := optionsArg(args, 1)
	if err != nil {
		return fmt.Errorf("event %q options: %w", name, err)
	}
	return d.Event(ctx, name, options)
}

func optionsArg(args []any, i int) (measure.Options, error) {
	if i >= len(args) {
		return measure.Options{}, nil
	}
	opts, ok := measure.AsOptions(args[i])
	if !ok {
		return nil, fmt.Errorf("%w: expected an object, got %T", ErrInvalidArgs, args[i])
	}
	return opts, nil
}
