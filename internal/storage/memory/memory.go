// Package memory is an in-process key/value storage with expiry.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/measure/internal/measure"
)

// Name is the registry name of the memory storage.
const Name = "memory"

// OptDefaultTTL sets the lifetime applied when Save is given
// measure.StorageDefault. Default: forever.
const OptDefaultTTL = "default_ttl"

type entry struct {
	value     any
	expiresAt time.Time
	expires   bool
}

// Storage implements measure.Storage over a map.
//
// Thread-safety: safe for concurrent use.
type Storage struct {
	mu         sync.Mutex
	entries    map[string]entry
	defaultTTL measure.TTL
	now        func() time.Time
}

// Option customizes a Storage.
type Option func(*Storage)

// WithClock sets the time source used for expiry. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty storage.
func New(opts measure.Options, options ...Option) (*Storage, error) {
	s := &Storage{
		entries:    make(map[string]entry),
		defaultTTL: measure.Forever,
		now:        time.Now,
	}

	ttl, ok, err := opts.TTL(OptDefaultTTL)
	if err != nil {
		return nil, err
	}
	if ok {
		if ttl == measure.StorageDefault {
			return nil, fmt.Errorf("%s: %w: the default cannot defer to itself", OptDefaultTTL, measure.ErrInvalidTTL)
		}
		if err := ttl.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", OptDefaultTTL, err)
		}
		s.defaultTTL = ttl
	}

	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Constructor is the registry entry for the memory storage.
func Constructor(opts measure.Options) (measure.Storage, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the value under key unless it is missing or expired.
func (s *Storage) Load(_ context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expires && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Save stores value under key. StorageDefault applies the configured default
// lifetime; DoNotPersist stores nothing.
func (s *Storage) Save(_ context.Context, key string, value any, ttl measure.TTL) error {
	ttl = ttl.Or(s.defaultTTL)
	if err := ttl.Validate(); err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	if ttl == measure.DoNotPersist {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	e.expiresAt, e.expires = ttl.ExpiresAt(s.now())
	s.entries[key] = e
	return nil
}

// Keys returns the live keys in sorted order.
func (s *Storage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if e.expires && !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	return slices.Sorted(maps.Keys(s.entries))
}
