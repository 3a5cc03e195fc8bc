// Package state persists migration records.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/fieldmerge/internal/storage"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// Collection is the KV collection holding migration records.
const Collection = "migration"

var (
	// ErrNotFound is returned for an unknown migration id.
	ErrNotFound = errors.New("migration not found")
	// ErrExists is returned when creating a record whose id is taken.
	ErrExists = errors.New("migration already exists")
	// ErrTerminal is returned when updating a COMPLETED or ERROR record.
	ErrTerminal = errors.New("migration already finished")
)

// NewRecord builds a fresh IN_PROGRESS record with a time-ordered id.
func NewRecord(sourceID, targetID string, now time.Time) (*types.MigrationRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate migration id: %w", err)
	}
	return &types.MigrationRecord{
		MigrationID:   id.String(),
		SourceFieldID: sourceID,
		TargetFieldID: targetID,
		Status:        types.StatusInProgress,
		MigrationDate: now.UTC(),
		Screens:       types.ScreenProgress{Logs: []string{}},
	}, nil
}

// Store is a typed repository over a KV. Updates through one Store are
// serialized.
type Store struct {
	kv  storage.KV
	mu  sync.Mutex
	now func() time.Time
}

// New wraps kv.
func New(kv storage.KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Path returns the backing file of the KV, if any.
func (s *Store) Path() string { return s.kv.Path() }

// Create persists a new record.
func (s *Store) Create(ctx context.Context, rec *types.MigrationRecord) error {
	if rec.Status != types.StatusInProgress {
		return fmt.Errorf("new migration must be %s, got %s", types.StatusInProgress, rec.Status)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid migration record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.kv.Get(ctx, Collection, rec.MigrationID); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, rec.MigrationID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.put(ctx, rec)
}

// Get loads a record.
func (s *Store) Get(ctx context.Context, id string) (*types.MigrationRecord, error) {
	data, err := s.kv.Get(ctx, Collection, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Update applies fn to the stored record and writes it back. Terminal
// records are never modified. The identity fields and creation date cannot
// change and progress cannot go backwards.
func (s *Store) Update(ctx context.Context, id string, fn func(*types.MigrationRecord)) (*types.MigrationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.IsTerminal() {
		return cur, fmt.Errorf("%w: %s is %s", ErrTerminal, id, cur.Status)
	}

	next := *cur
	next.Screens.Logs = append([]string(nil), cur.Screens.Logs...)
	fn(&next)

	switch {
	case next.MigrationID != cur.MigrationID,
		next.SourceFieldID != cur.SourceFieldID,
		next.TargetFieldID != cur.TargetFieldID,
		!next.MigrationDate.Equal(cur.MigrationDate):
		return cur, fmt.Errorf("migration %s: identity fields are immutable", id)
	case next.IssueMigrationProgress < cur.IssueMigrationProgress:
		return cur, fmt.Errorf("migration %s: progress cannot decrease (%d -> %d)",
			id, cur.IssueMigrationProgress, next.IssueMigrationProgress)
	}
	if next.Status.IsTerminal() && next.CompletedAt == nil {
		t := s.now().UTC()
		next.CompletedAt = &t
	}
	if err := next.Validate(); err != nil {
		return cur, fmt.Errorf("invalid migration record: %w", err)
	}
	if err := s.put(ctx, &next); err != nil {
		return cur, err
	}
	return &next, nil
}

// List returns every record. Order is unspecified.
func (s *Store) List(ctx context.Context) ([]*types.MigrationRecord, error) {
	entries, err := s.kv.List(ctx, Collection)
	if err != nil {
		return nil, err
	}
	out := make([]*types.MigrationRecord, 0, len(entries))
	for _, e := range entries {
		rec, err := decode(e.Value)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", e.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) put(ctx context.Context, rec *types.MigrationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode migration: %w", err)
	}
	return s.kv.Set(ctx, Collection, rec.MigrationID, data)
}

func decode(data []byte) (*types.MigrationRecord, error) {
	var rec types.MigrationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode migration: %w", err)
	}
	if rec.Screens.Logs == nil {
		rec.Screens.Logs = []string{}
	}
	return &rec, nil
}
