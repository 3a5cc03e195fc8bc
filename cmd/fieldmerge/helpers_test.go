package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/untoldecay/fieldmerge/internal/consolidate"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// fakeBackend completes a migration after a fixed number of status reads.
type fakeBackend struct {
	mu         sync.Mutex
	compatible map[string]bool
	fail       map[string]string
	readsLeft  map[string]int
	recs       map[string]*types.MigrationRecord
	started    []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		compatible: map[string]bool{},
		fail:       map[string]string{},
		readsLeft:  map[string]int{},
		recs:       map[string]*types.MigrationRecord{},
	}
}

func pairKey(s, t string) string { return s + ">" + t }

func (f *fakeBackend) ListCustomFields(context.Context) ([]types.Field, error) { return nil, nil }

func (f *fakeBackend) GetFieldUsage(context.Context, string) (types.FieldUsage, error) {
	return types.FieldUsage{}, nil
}

func (f *fakeBackend) CheckCompatibility(_ context.Context, s, t string) (types.Compatibility, error) {
	ok, known := f.compatible[pairKey(s, t)]
	if !known {
		return types.Compatibility{}, fmt.Errorf("field %s not found", s)
	}
	res := types.Compatibility{Valid: ok}
	if !ok {
		res.Rules = []types.RuleResult{{Rule: "cannotConvertTextToSelect", Critical: true, Message: "Text fields cannot be converted to select fields."}}
	}
	return res, nil
}

func (f *fakeBackend) Analyze(context.Context, string, string) (*types.AnalysisReport, error) {
	return &types.AnalysisReport{}, nil
}

func (f *fakeBackend) StartMigration(_ context.Context, s, t string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.compatible[pairKey(s, t)] {
		return "", &consolidate.IncompatibleError{SourceFieldID: s, TargetFieldID: t}
	}
	id := fmt.Sprintf("m-%d", len(f.started)+1)
	f.started = append(f.started, id)
	f.recs[id] = &types.MigrationRecord{MigrationID: id, SourceFieldID: s, TargetFieldID: t, Status: types.StatusInProgress, TotalIssues: 10}
	f.readsLeft[id] = 2
	if msg, ok := f.fail[pairKey(s, t)]; ok {
		f.recs[id].Error = msg
	}
	return id, nil
}

func (f *fakeBackend) GetMigrationStatus(_ context.Context, id string) (*types.MigrationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, fmt.Errorf("migration not found: %s", id)
	}
	if f.readsLeft[id] > 0 {
		f.readsLeft[id]--
		rec.IssueMigrationProgress += 5
	}
	if f.readsLeft[id] == 0 && !rec.Status.IsTerminal() {
		rec.Status = types.StatusCompleted
		if rec.Error != "" {
			rec.Status = types.StatusError
		}
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeBackend) ListMigrationHistory(context.Context) ([]*types.MigrationRecord, error) {
	return nil, nil
}

func (f *fakeBackend) Remote() bool { return false }

func (f *fakeBackend) Close() error { return nil }
