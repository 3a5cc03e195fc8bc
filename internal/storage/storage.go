// Package storage defines the durable key-value contract used for migration
// records.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("not found")

// Entry is one stored value.
type Entry struct {
	Key   string
	Value []byte
}

// KV is a durable map partitioned into collections. Values are opaque bytes;
// callers encode them.
type KV interface {
	// Set creates or replaces the value at collection/key.
	Set(ctx context.Context, collection, key string, value []byte) error
	// Get returns the value at collection/key or ErrNotFound.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// List returns every entry in a collection. Order is unspecified.
	List(ctx context.Context, collection string) ([]Entry, error)
	// Path is the backing file, or "" for non-file stores.
	Path() string
	Close() error
}
