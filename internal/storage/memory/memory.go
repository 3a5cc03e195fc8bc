// Package memory provides an in-process KV store, used by tests and when the
// database path is ":memory:".
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/untoldecay/fieldmerge/internal/storage"
)

// Store is a mutex-guarded map of collections.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.KV = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{data: make(map[string]map[string][]byte)}
}

// Set stores a copy of value.
func (s *Store) Set(_ context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data[collection]
	if !ok {
		c = make(map[string][]byte)
		s.data[collection] = c
	}
	c[key] = slices.Clone(value)
	return nil
}

// Get returns a copy of the stored value.
func (s *Store) Get(_ context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[collection][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return slices.Clone(v), nil
}

// List returns the entries of a collection sorted by key.
func (s *Store) List(_ context.Context, collection string) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.data[collection]
	out := make([]storage.Entry, 0, len(c))
	for k, v := range c {
		out = append(out, storage.Entry{Key: k, Value: slices.Clone(v)})
	}
	slices.SortFunc(out, func(a, b storage.Entry) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out, nil
}

// Path returns "".
func (s *Store) Path() string { return "" }

// Close is a no-op.
func (s *Store) Close() error { return nil }
