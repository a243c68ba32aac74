// Package state provides an observable in-memory value with an optional
// load-on-start/save-on-change hook to a key-value persistence boundary.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/findosh/eshotry/internal/storage"
)

// Persistence loads and saves the persisted part of a value
type Persistence[T any] interface {
	// Load returns the stored value and whether one was found
	Load(ctx context.Context) (T, bool, error)
	Save(ctx context.Context, value T) error
}

// Store holds a value of type T, notifies subscribers after every change, and
// writes the value through its Persistence. Save failures are logged and never
// roll back the in-memory change.
type Store[T any] struct {
	mu      sync.RWMutex
	value   T
	subs    map[int]func(T)
	nextSub int

	persist Persistence[T]
	saveMu  sync.Mutex
	log     *slog.Logger
}

// New creates a store holding initial. persist may be nil.
func New[T any](initial T, persist Persistence[T], log *slog.Logger) *Store[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Store[T]{
		value:   initial,
		subs:    make(map[int]func(T)),
		persist: persist,
		log:     log,
	}
}

// Hydrate replaces the value with the persisted one, if any. merge combines the
// current value with the loaded one; it lets callers restore only the persisted
// fields. Subscribers are notified when a value was loaded.
func (s *Store[T]) Hydrate(ctx context.Context, merge func(current, loaded T) T) error {
	if s.persist == nil {
		return nil
	}

	loaded, ok, err := s.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.value = merge(s.value, loaded)
	value := s.value
	subs := s.subscribers()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
	return nil
}

// Get returns the current value
func (s *Store[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Update applies fn to the current value under the store lock, then persists
// and notifies. fn must not call back into the store.
func (s *Store[T]) Update(ctx context.Context, fn func(T) T) T {
	s.mu.Lock()
	s.value = fn(s.value)
	value := s.value
	subs := s.subscribers()
	// Saves are serialized and start in update order, so the last write wins
	s.saveMu.Lock()
	s.mu.Unlock()

	s.save(ctx, value)
	s.saveMu.Unlock()

	for _, fn := range subs {
		fn(value)
	}
	return value
}

// Subscribe registers fn to be called with the new value after every change.
// The returned function removes the subscription.
func (s *Store[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store[T]) subscribers() []func(T) {
	subs := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (s *Store[T]) save(ctx context.Context, value T) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Save(context.WithoutCancel(ctx), value); err != nil {
		s.log.Warn("failed to persist state", "error", err)
	}
}

// JSONPersistence stores the part of T selected by partialize as JSON under a
// single key
type JSONPersistence[T any] struct {
	kv         storage.KeyValue
	key        string
	partialize func(T) T
}

// NewJSONPersistence creates a persistence hook for key. partialize may be
// nil to persist the whole value.
func NewJSONPersistence[T any](kv storage.KeyValue, key string, partialize func(T) T) *JSONPersistence[T] {
	return &JSONPersistence[T]{kv: kv, key: key, partialize: partialize}
}

// Load reads and decodes the stored value
func (p *JSONPersistence[T]) Load(ctx context.Context) (T, bool, error) {
	var value T

	data, err := p.kv.Get(ctx, p.key)
	if errors.Is(err, storage.ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("failed to decode %s: %w", p.key, err)
	}
	return value, true, nil
}

// Save encodes and stores the persisted part of value
func (p *JSONPersistence[T]) Save(ctx context.Context, value T) error {
	if p.partialize != nil {
		value = p.partialize(value)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", p.key, err)
	}
	return p.kv.Put(ctx, p.key, data)
}
