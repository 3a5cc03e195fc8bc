package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/untoldecay/fieldmerge/internal/conversion"
	"github.com/untoldecay/fieldmerge/internal/jira/jiratest"
	"github.com/untoldecay/fieldmerge/internal/lockfile"
	"github.com/untoldecay/fieldmerge/internal/notify"
	"github.com/untoldecay/fieldmerge/internal/resolver"
	"github.com/untoldecay/fieldmerge/internal/state"
	"github.com/untoldecay/fieldmerge/internal/storage"
	"github.com/untoldecay/fieldmerge/internal/storage/memory"
	"github.com/untoldecay/fieldmerge/internal/storage/sqlite"
	"github.com/untoldecay/fieldmerge/internal/transfer"
	"github.com/untoldecay/fieldmerge/internal/types"
)

const (
	legacyID   = "customfield_10010"
	priorityID = "customfield_10020"
	notesID    = "customfield_10030"
	tagsID     = "customfield_10040"
)

var (
	opsProject = jiratest.Project{ID: "10000", Key: "OPS", Name: "Operations"}
	webProject = jiratest.Project{ID: "10001", Key: "WEB", Name: "Website"}
)

func fields() []jiratest.Field {
	return []jiratest.Field{
		{ID: legacyID, Name: "Legacy Priority", Custom: true, Type: "option", CustomType: conversion.CustomTypePrefix + conversion.KindSelect},
		{ID: priorityID, Name: "Priority", Custom: true, Type: "option", CustomType: conversion.CustomTypePrefix + conversion.KindSelect},
		{ID: notesID, Name: "Notes", Custom: true, Type: "string", CustomType: conversion.CustomTypePrefix + "textfield"},
		{ID: tagsID, Name: "Tags", Custom: true, Type: "array", CustomType: conversion.CustomTypePrefix + conversion.KindMultiSelect},
	}
}

func threeScreens(field string) []*jiratest.Screen {
	return []*jiratest.Screen{
		{ID: 1, Name: "Default", Tabs: []*jiratest.Tab{{ID: 11, Name: "Main", Fields: []string{"summary", field}}}},
		{ID: 2, Name: "Bug", Tabs: []*jiratest.Tab{{ID: 21, Name: "Main", Fields: []string{field}}, {ID: 22, Name: "More", Fields: []string{"labels"}}}},
		{ID: 3, Name: "Task", Tabs: []*jiratest.Tab{{ID: 31, Name: "Main", Fields: []string{field}}}},
	}
}

// recordingKV captures every persisted migration snapshot.
type recordingKV struct {
	storage.KV
	mu        sync.Mutex
	snapshots []types.MigrationRecord
}

func (r *recordingKV) Set(ctx context.Context, collection, key string, value []byte) error {
	var rec types.MigrationRecord
	if err := json.Unmarshal(value, &rec); err == nil {
		r.mu.Lock()
		r.snapshots = append(r.snapshots, rec)
		r.mu.Unlock()
	}
	return r.KV.Set(ctx, collection, key, value)
}

func (r *recordingKV) Snapshots() []types.MigrationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.MigrationRecord(nil), r.snapshots...)
}

type fixture struct {
	jira   *jiratest.Server
	kv     *recordingKV
	events *notify.Recorder
	svc    *Service
}

func newFixture(t *testing.T, setup func(s *jiratest.Server)) *fixture {
	t.Helper()
	s := jiratest.New()
	s.Fields = fields()
	if setup != nil {
		setup(s)
	}
	s.Start()
	t.Cleanup(s.Close)

	kv := &recordingKV{KV: memory.New()}
	events := &notify.Recorder{}
	svc := New(s.Client(), state.New(kv), Options{
		LockDir:   t.TempDir(),
		Publisher: events,
	})
	return &fixture{jira: s, kv: kv, events: events, svc: svc}
}

func waitTerminal(t *testing.T, svc *Service, id string) *types.MigrationRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := svc.GetMigrationStatus(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status.IsTerminal() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("migration %s did not finish", id)
	return nil
}

func TestScenarioSameTypeSelect(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.Screens = threeScreens(legacyID)
		s.AddIssues(120, opsProject, legacyID, func(i int) any { return map[string]any{"value": "High"} })
	})
	ctx := context.Background()

	compat, err := f.svc.CheckCompatibility(ctx, legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	if !compat.Valid {
		t.Fatalf("compatibility = %+v", compat)
	}

	rec, err := f.svc.RunMigration(ctx, legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusCompleted {
		t.Fatalf("status = %s (%s)", rec.Status, rec.Error)
	}
	if rec.Screens.Total != 3 || rec.Screens.Failed != 0 || rec.Screens.Processed != 4 || rec.Screens.Succeeded != 4 {
		t.Errorf("screens = %+v", rec.Screens)
	}
	if rec.TotalIssues != 120 || rec.IssueMigrationProgress != 120 {
		t.Errorf("progress = %d/%d", rec.IssueMigrationProgress, rec.TotalIssues)
	}
	if rec.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if f.jira.UpdateCount() != 120 {
		t.Errorf("updates = %d", f.jira.UpdateCount())
	}

	events := f.events.Types()
	if events[0] != notify.EventStarted || events[len(events)-1] != notify.EventCompleted {
		t.Errorf("events = %v", events)
	}
}

func TestScenarioTextToMultiSelectRefused(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.Screens = threeScreens(notesID)
		s.AddIssues(5, opsProject, notesID, func(i int) any { return "note" })
	})
	ctx := context.Background()

	compat, err := f.svc.CheckCompatibility(ctx, notesID, tagsID)
	if err != nil {
		t.Fatal(err)
	}
	if compat.Valid {
		t.Fatal("text to multiselect must be invalid")
	}
	found := false
	for _, r := range compat.Rules {
		if r.Rule == "cannotConvertTextToSelect" {
			found = true
			if r.Valid || !r.Critical {
				t.Errorf("rule = %+v", r)
			}
		}
	}
	if !found {
		t.Error("cannotConvertTextToSelect not reported")
	}

	_, err = f.svc.StartMigration(ctx, notesID, tagsID)
	var incompatible *IncompatibleError
	if !errors.As(err, &incompatible) {
		t.Fatalf("expected IncompatibleError, got %v", err)
	}
	if incompatible.Result.Valid {
		t.Error("error should carry the failed result")
	}

	history, err := f.svc.ListMigrationHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("refused migration left %d records", len(history))
	}
	if f.jira.UpdateCount() != 0 || len(f.jira.TabFieldIDs(1, 11)) != 2 {
		t.Error("refused migration touched the tracker")
	}
}

func TestScenarioBatchedProgress(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.AddIssues(230, opsProject, legacyID, func(i int) any { return map[string]any{"value": "Low"} })
	})

	id, err := f.svc.StartMigration(context.Background(), legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()
	rec := waitTerminal(t, f.svc, id)
	if rec.Status != types.StatusCompleted || rec.IssueMigrationProgress != 230 {
		t.Fatalf("record = %+v", rec)
	}

	var pages []int
	for _, req := range f.jira.Searches() {
		if req.MaxResults > 0 {
			pages = append(pages, req.MaxResults)
		}
	}
	want := []int{50, 50, 50, 50, 30}
	if len(pages) != len(want) {
		t.Fatalf("pages = %v, want %v", pages, want)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Errorf("pages = %v, want %v", pages, want)
			break
		}
	}

	snaps := f.kv.Snapshots()
	prev := 0
	reached := -1
	for i, sn := range snaps {
		if sn.IssueMigrationProgress < prev {
			t.Fatalf("snapshot %d: progress went from %d to %d", i, prev, sn.IssueMigrationProgress)
		}
		if sn.IssueMigrationProgress > sn.TotalIssues {
			t.Fatalf("snapshot %d: progress exceeds total", i)
		}
		if sn.Screens.Processed != sn.Screens.Succeeded+sn.Screens.Failed {
			t.Fatalf("snapshot %d: screen counters inconsistent", i)
		}
		if reached < 0 && sn.IssueMigrationProgress == 230 {
			reached = i
		}
		prev = sn.IssueMigrationProgress
	}
	if reached < 0 {
		t.Fatal("230 never persisted")
	}
	// 230 appears in the last progress snapshot and the completion snapshot only
	if reached < len(snaps)-2 {
		t.Errorf("230 persisted at snapshot %d of %d", reached, len(snaps))
	}
}

func TestScenarioScreenFailureContinues(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.Screens = []*jiratest.Screen{
			{ID: 1, Tabs: []*jiratest.Tab{{ID: 11, Fields: []string{legacyID}}}},
			{ID: 2, Tabs: []*jiratest.Tab{{ID: 21, Fields: []string{legacyID}}}},
			{ID: 3, Tabs: []*jiratest.Tab{{ID: 31, Fields: []string{legacyID}}}},
		}
		s.TabListStatus[2] = http.StatusInternalServerError
		s.AddIssues(3, opsProject, legacyID, func(i int) any { return map[string]any{"value": "High"} })
	})

	rec, err := f.svc.RunMigration(context.Background(), legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusCompleted {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.Screens.Failed != 1 || rec.Screens.Succeeded != 2 || rec.Screens.Processed != 3 {
		t.Errorf("screens = %+v", rec.Screens)
	}
	if len(f.jira.TabFieldIDs(3, 31)) != 2 {
		t.Error("screen after the failure was skipped")
	}
	if rec.IssueMigrationProgress != 3 {
		t.Errorf("progress = %d", rec.IssueMigrationProgress)
	}
}

func TestCountFailureRecordsError(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.SearchStatus = http.StatusBadRequest
	})

	rec, err := f.svc.RunMigration(context.Background(), legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusError || rec.Error == "" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.IssueMigrationProgress != 0 {
		t.Errorf("progress = %d", rec.IssueMigrationProgress)
	}
	last := f.events.Types()
	if last[len(last)-1] != notify.EventFailed {
		t.Errorf("events = %v", last)
	}
}

func TestBatchFailureKeepsPersistedProgress(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.AddIssues(120, opsProject, legacyID, func(i int) any { return map[string]any{"value": "High"} })
		s.SearchFailAfter = 3
	})

	rec, err := f.svc.RunMigration(context.Background(), legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusError {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.TotalIssues != 120 || rec.IssueMigrationProgress != 100 {
		t.Errorf("progress = %d/%d", rec.IssueMigrationProgress, rec.TotalIssues)
	}
}

// cancelOnProgress cancels the run on the first progress event.
type cancelOnProgress struct {
	notify.Recorder
	cancel context.CancelFunc
}

func (c *cancelOnProgress) Publish(ctx context.Context, ev notify.Event) error {
	if ev.Type == notify.EventProgress {
		c.cancel()
	}
	return c.Recorder.Publish(ctx, ev)
}

func TestCancelledRunRecordsError(t *testing.T) {
	s := jiratest.New()
	s.Fields = fields()
	s.AddIssues(60, opsProject, legacyID, func(i int) any { return map[string]any{"value": "High"} })
	s.Start()
	t.Cleanup(s.Close)

	kv, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "fieldmerge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := &cancelOnProgress{cancel: cancel}
	svc := New(s.Client(), state.New(kv), Options{
		LockDir:   t.TempDir(),
		Transfer:  transfer.Options{BatchSize: 50},
		Publisher: events,
	})

	rec, err := svc.RunMigration(ctx, legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != types.StatusError {
		t.Fatalf("status = %s, want %s", rec.Status, types.StatusError)
	}
	if !strings.Contains(rec.Error, "context canceled") {
		t.Errorf("error = %q", rec.Error)
	}

	stored, err := svc.GetMigrationStatus(context.Background(), rec.MigrationID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != types.StatusError {
		t.Errorf("stored status = %s", stored.Status)
	}
	got := events.Types()
	if got[len(got)-1] != notify.EventFailed {
		t.Errorf("events = %v", got)
	}

	if _, err := svc.RunMigration(context.Background(), legacyID, priorityID); err != nil {
		t.Errorf("pair should be free after a cancelled run: %v", err)
	}
}

func TestUnknownFieldIsRefused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.StartMigration(ctx, legacyID, "customfield_404"); !errors.Is(err, resolver.ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}
	if _, err := f.svc.CheckCompatibility(ctx, "customfield_404", priorityID); !errors.Is(err, resolver.ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}
	if _, err := f.svc.StartMigration(ctx, legacyID, legacyID); err == nil {
		t.Error("expected error for identical fields")
	}
	if history, _ := f.svc.ListMigrationHistory(ctx); len(history) != 0 {
		t.Errorf("history = %d", len(history))
	}
}

func TestSamePairIsGuarded(t *testing.T) {
	f := newFixture(t, nil)

	release, err := f.svc.acquire(legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartMigration(context.Background(), legacyID, priorityID); !errors.Is(err, ErrMigrationRunning) {
		t.Errorf("expected ErrMigrationRunning, got %v", err)
	}
	release()

	if _, err := f.svc.RunMigration(context.Background(), legacyID, priorityID); err != nil {
		t.Errorf("pair should be free after release: %v", err)
	}
}

func TestSamePairIsGuardedAcrossProcesses(t *testing.T) {
	f := newFixture(t, nil)

	lock, err := lockfile.AcquirePair(f.svc.lockDir, legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lock.Release() }()

	if _, err := f.svc.StartMigration(context.Background(), legacyID, priorityID); !errors.Is(err, ErrMigrationRunning) {
		t.Errorf("expected ErrMigrationRunning, got %v", err)
	}
}

func TestHistoryAndStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.StartMigration(ctx, legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()
	second, err := f.svc.StartMigration(ctx, legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()
	if first == second {
		t.Fatal("ids must be unique")
	}

	history, err := f.svc.ListMigrationHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d", len(history))
	}
	for _, rec := range history {
		if rec.Status != types.StatusCompleted {
			t.Errorf("%s status = %s", rec.MigrationID, rec.Status)
		}
	}
	if _, err := f.svc.GetMigrationStatus(ctx, "missing"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected state.ErrNotFound, got %v", err)
	}
}

func TestStartDetachesFromCallerContext(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.AddIssues(60, opsProject, legacyID, func(i int) any { return map[string]any{"value": "High"} })
	})
	ctx, cancel := context.WithCancel(context.Background())
	id, err := f.svc.StartMigration(ctx, legacyID, priorityID)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	f.svc.Wait()

	rec := waitTerminal(t, f.svc, id)
	if rec.Status != types.StatusCompleted || rec.IssueMigrationProgress != 60 {
		t.Errorf("record = %+v", rec)
	}
}

func TestFieldUsageAndList(t *testing.T) {
	f := newFixture(t, func(s *jiratest.Server) {
		s.Screens = threeScreens(legacyID)
		s.Contexts[legacyID] = []map[string]any{{"id": "10100", "name": "Global"}}
	})
	ctx := context.Background()

	list, err := f.svc.ListCustomFields(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 4 || list[0].Name != "Legacy Priority" || list[3].Name != "Tags" {
		t.Errorf("fields = %+v", list)
	}

	usage, err := f.svc.GetFieldUsage(ctx, legacyID)
	if err != nil {
		t.Fatal(err)
	}
	if len(usage.Screens) != 3 || len(usage.Contexts) != 1 {
		t.Errorf("usage = %+v", usage)
	}
	if _, err := f.svc.GetFieldUsage(ctx, "customfield_404"); !errors.Is(err, resolver.ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}
}
