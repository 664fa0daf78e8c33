// Package sequence allocates human-readable sequential numbers keyed by (prefix, scope).
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidKey is returned for keys without a prefix.
var ErrInvalidKey = errors.New("sequence: prefix required")

// Key identifies an independent counter.
type Key struct {
	Prefix string
	Scope  string
}

func (k Key) String() string {
	return k.Prefix + "/" + k.Scope
}

// Store increments and returns the next raw value for a key.
type Store interface {
	Next(ctx context.Context, key Key) (int64, error)
}

// Format controls how a raw value is rendered.
type Format struct {
	Pad          int
	IncludeScope bool
}

// Number is an allocated sequence value.
type Number struct {
	Key       Key
	Value     int64
	Formatted string
}

// DefaultFormat renders PREFIX-0001.
var DefaultFormat = Format{Pad: 4}

// Allocator hands out formatted numbers from a Store.
type Allocator struct {
	store   Store
	formats map[string]Format
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithFormat overrides the format for a prefix.
func WithFormat(prefix string, f Format) Option {
	return func(a *Allocator) {
		a.formats[prefix] = f
	}
}

// NewAllocator wraps a store.
func NewAllocator(store Store, opts ...Option) *Allocator {
	a := &Allocator{store: store, formats: make(map[string]Format)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next allocates the next number for key.
func (a *Allocator) Next(ctx context.Context, key Key) (Number, error) {
	key.Prefix = strings.TrimSpace(key.Prefix)
	key.Scope = strings.TrimSpace(key.Scope)
	if key.Prefix == "" {
		return Number{}, ErrInvalidKey
	}
	v, err := a.store.Next(ctx, key)
	if err != nil {
		return Number{}, fmt.Errorf("sequence %s: %w", key, err)
	}
	f, ok := a.formats[key.Prefix]
	if !ok {
		f = DefaultFormat
	}
	return Number{Key: key, Value: v, Formatted: f.Render(key, v)}, nil
}

// Render formats a value for key.
func (f Format) Render(key Key, v int64) string {
	pad := f.Pad
	if pad <= 0 {
		pad = 1
	}
	num := fmt.Sprintf("%0*d", pad, v)
	if f.IncludeScope && key.Scope != "" {
		return key.Prefix + "-" + key.Scope + "-" + num
	}
	return key.Prefix + "-" + num
}

// MemoryStore is an in-process Store for tests and tooling.
type MemoryStore struct {
	mu     sync.Mutex
	values map[Key]int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[Key]int64)}
}

// Next implements Store.
func (s *MemoryStore) Next(_ context.Context, key Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key]++
	return s.values[key], nil
}
