package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/untoldecay/fieldmerge/internal/debug"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// dbChanges signals writes to the state database and its WAL. It returns nil
// when the database is not a local file or fsnotify is unavailable, in which
// case callers only poll.
func dbChanges(ctx context.Context, dbPath string) <-chan struct{} {
	if dbPath == "" || dbPath == ":memory:" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		debug.Logf("fsnotify unavailable (%v), polling only", err)
		return nil
	}
	// Watch the directory: SQLite creates and truncates -wal and -shm files
	if err := watcher.Add(filepath.Dir(dbPath)); err != nil {
		debug.Logf("failed to watch %s (%v), polling only", filepath.Dir(dbPath), err)
		_ = watcher.Close()
		return nil
	}

	base := filepath.Base(dbPath)
	out := make(chan struct{}, 1)
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				debug.Logf("watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type statusReader interface {
	GetMigrationStatus(ctx context.Context, migrationID string) (*types.MigrationRecord, error)
}

// followMigration re-reads the record on every change signal or tick and
// calls render when it changed, until the record is terminal.
func followMigration(ctx context.Context, r statusReader, id string, interval time.Duration, changes <-chan struct{}, render func(*types.MigrationRecord)) (*types.MigrationRecord, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *types.MigrationRecord
	for {
		rec, err := r.GetMigrationStatus(ctx, id)
		if err != nil {
			return last, err
		}
		if last == nil || !last.SameProgress(rec) {
			render(rec)
		}
		last = rec
		if rec.Status.IsTerminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		case <-changes:
		}
	}
}
