// Package consolidate sequences field consolidation: validation, screen
// placement, value transfer and record bookkeeping.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/untoldecay/fieldmerge/internal/conversion"
	"github.com/untoldecay/fieldmerge/internal/lockfile"
	"github.com/untoldecay/fieldmerge/internal/notify"
	"github.com/untoldecay/fieldmerge/internal/placement"
	"github.com/untoldecay/fieldmerge/internal/resolver"
	"github.com/untoldecay/fieldmerge/internal/state"
	"github.com/untoldecay/fieldmerge/internal/transfer"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// ErrMigrationRunning is returned when the same pair is already migrating.
var ErrMigrationRunning = errors.New("a migration for this field pair is already running")

// ErrInvalidPair is returned for missing or identical field ids.
var ErrInvalidPair = errors.New("invalid field pair")

// IncompatibleError is returned when a critical conversion rule fails.
type IncompatibleError struct {
	SourceFieldID string
	TargetFieldID string
	Result        types.Compatibility
}

func (e *IncompatibleError) Error() string {
	var msgs []string
	for _, r := range e.Result.FailedCritical() {
		msgs = append(msgs, r.Rule+": "+r.Message)
	}
	return fmt.Sprintf("cannot migrate %s to %s: %s", e.SourceFieldID, e.TargetFieldID, strings.Join(msgs, "; "))
}

// API is everything the service needs from the tracker.
type API interface {
	resolver.MetadataAPI
	placement.ScreenAPI
	transfer.IssueAPI
}

// Options configure a Service.
type Options struct {
	// LockDir holds per-pair lock files. Empty keeps the guard in-process.
	LockDir   string
	Transfer  transfer.Options
	Publisher notify.Publisher
	Logger    *slog.Logger
}

// Service is the consolidation surface used by the CLI, RPC and HTTP layers.
type Service struct {
	api       API
	resolver  *resolver.Resolver
	placement *placement.Migrator
	transfer  *transfer.Engine
	store     *state.Store
	publisher notify.Publisher
	lockDir   string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// New wires a service.
func New(api API, store *state.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = notify.Nop{}
	}
	res := resolver.New(api, logger.With("component", "resolver"))
	return &Service{
		api:       api,
		resolver:  res,
		placement: placement.New(res, api, logger.With("component", "placement")),
		transfer:  transfer.New(api, opts.Transfer, logger.With("component", "transfer")),
		store:     store,
		publisher: publisher,
		lockDir:   opts.LockDir,
		logger:    logger,
		now:       time.Now,
		running:   make(map[string]struct{}),
	}
}

// Store returns the record store.
func (s *Service) Store() *state.Store { return s.store }

// ListCustomFields returns custom fields sorted by case-insensitive name.
func (s *Service) ListCustomFields(ctx context.Context) ([]types.Field, error) {
	return s.resolver.CustomFields(ctx)
}

// GetFieldUsage lists the screens and contexts of a field.
func (s *Service) GetFieldUsage(ctx context.Context, fieldID string) (types.FieldUsage, error) {
	if _, err := s.resolver.Field(ctx, fieldID); err != nil {
		return types.FieldUsage{}, err
	}
	return s.resolver.Usage(ctx, fieldID), nil
}

// CheckCompatibility evaluates the conversion rules for a pair.
func (s *Service) CheckCompatibility(ctx context.Context, sourceID, targetID string) (types.Compatibility, error) {
	source, target, err := s.resolver.FieldPair(ctx, sourceID, targetID)
	if err != nil {
		return types.Compatibility{}, err
	}
	return conversion.Evaluate(conversion.PairOf(source, target)), nil
}

// GetMigrationStatus returns the current record.
func (s *Service) GetMigrationStatus(ctx context.Context, migrationID string) (*types.MigrationRecord, error) {
	return s.store.Get(ctx, migrationID)
}

// ListMigrationHistory returns every record in no particular order.
func (s *Service) ListMigrationHistory(ctx context.Context) ([]*types.MigrationRecord, error) {
	return s.store.List(ctx)
}

// StartMigration validates the pair, records it IN_PROGRESS and runs it in
// the background. The run does not inherit ctx cancellation.
func (s *Service) StartMigration(ctx context.Context, sourceID, targetID string) (string, error) {
	job, err := s.prepare(ctx, sourceID, targetID)
	if err != nil {
		return "", err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.WithoutCancel(ctx), job)
	}()
	return job.rec.MigrationID, nil
}

// RunMigration is StartMigration that blocks until the record is terminal.
func (s *Service) RunMigration(ctx context.Context, sourceID, targetID string) (*types.MigrationRecord, error) {
	job, err := s.prepare(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, job)
	rec, err := s.store.Get(context.WithoutCancel(ctx), job.rec.MigrationID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsTerminal() {
		return rec, fmt.Errorf("migration %s could not record a final status", rec.MigrationID)
	}
	return rec, nil
}

// Wait blocks until background runs finish.
func (s *Service) Wait() { s.wg.Wait() }

type job struct {
	rec     *types.MigrationRecord
	pair    conversion.Pair
	release func()
}

// prepare performs every synchronous check and persists the record. Nothing
// is written when validation fails.
func (s *Service) prepare(ctx context.Context, sourceID, targetID string) (*job, error) {
	if sourceID == "" || targetID == "" {
		return nil, fmt.Errorf("%w: source and target field ids are required", ErrInvalidPair)
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: source and target must be different fields", ErrInvalidPair)
	}

	source, target, err := s.resolver.FieldPair(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	pair := conversion.PairOf(source, target)
	if result := conversion.Evaluate(pair); !result.Valid {
		return nil, &IncompatibleError{SourceFieldID: sourceID, TargetFieldID: targetID, Result: result}
	}

	release, err := s.acquire(sourceID, targetID)
	if err != nil {
		return nil, err
	}

	rec, err := state.NewRecord(sourceID, targetID, s.now())
	if err != nil {
		release()
		return nil, err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		release()
		return nil, fmt.Errorf("failed to record migration: %w", err)
	}
	s.logger.Info("migration started", "migration", rec.MigrationID, "source", sourceID, "target", targetID)
	s.publish(ctx, notify.EventStarted, rec)
	return &job{rec: rec, pair: pair, release: release}, nil
}

func (s *Service) acquire(sourceID, targetID string) (func(), error) {
	key := sourceID + "\x00" + targetID
	s.mu.Lock()
	if _, busy := s.running[key]; busy {
		s.mu.Unlock()
		return nil, ErrMigrationRunning
	}
	s.running[key] = struct{}{}
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()
	}
	if s.lockDir == "" {
		return forget, nil
	}

	lock, err := lockfile.AcquirePair(s.lockDir, sourceID, targetID)
	if err != nil {
		forget()
		if errors.Is(err, lockfile.ErrLocked) {
			return nil, ErrMigrationRunning
		}
		return nil, err
	}
	return func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("failed to release pair lock", "path", lock.Path(), "error", err)
		}
		forget()
	}, nil
}

// execute drives a prepared job to a terminal state. The terminal write runs
// on a context that ignores cancellation of ctx.
func (s *Service) execute(ctx context.Context, j *job) {
	final := context.WithoutCancel(ctx)
	defer j.release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("migration panicked", "migration", j.rec.MigrationID, "panic", r)
			s.fail(final, j.rec.MigrationID, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := s.run(ctx, j); err != nil {
		s.fail(final, j.rec.MigrationID, err)
		return
	}
	if err := ctx.Err(); err != nil {
		s.fail(final, j.rec.MigrationID, fmt.Errorf("migration interrupted: %w", err))
		return
	}

	rec, err := s.store.Update(final, j.rec.MigrationID, func(r *types.MigrationRecord) {
		r.Status = types.StatusCompleted
	})
	if err != nil {
		s.logger.Error("failed to complete migration", "migration", j.rec.MigrationID, "error", err)
		s.fail(final, j.rec.MigrationID, err)
		return
	}
	s.logger.Info("migration completed", "migration", rec.MigrationID,
		"progress", rec.IssueMigrationProgress, "total", rec.TotalIssues)
	s.publish(final, notify.EventCompleted, rec)
}

func (s *Service) run(ctx context.Context, j *job) error {
	id := j.rec.MigrationID
	src, tgt := j.rec.SourceFieldID, j.rec.TargetFieldID

	_, err := s.placement.Migrate(ctx, src, tgt, func(p types.ScreenProgress) error {
		_, err := s.store.Update(ctx, id, func(r *types.MigrationRecord) {
			r.Screens = p
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("screen placement: %w", err)
	}

	_, err = s.transfer.Transfer(ctx, j.pair, src, tgt, func(p transfer.Progress) error {
		rec, err := s.store.Update(ctx, id, func(r *types.MigrationRecord) {
			r.TotalIssues = p.Total
			r.IssueMigrationProgress = min(p.Written, p.Total)
			r.IssuesSkipped = p.Skipped
			r.IssuesFailed = p.Failed
		})
		if err != nil {
			return err
		}
		s.publish(ctx, notify.EventProgress, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("value transfer: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, id string, cause error) {
	rec, err := s.store.Update(ctx, id, func(r *types.MigrationRecord) {
		r.Status = types.StatusError
		r.Error = cause.Error()
	})
	if err != nil {
		s.logger.Error("failed to record migration error", "migration", id, "cause", cause, "error", err)
		return
	}
	s.logger.Warn("migration failed", "migration", id, "error", cause)
	s.publish(ctx, notify.EventFailed, rec)
}

func (s *Service) publish(ctx context.Context, eventType string, rec *types.MigrationRecord) {
	if err := s.publisher.Publish(ctx, notify.NewEvent(eventType, rec)); err != nil {
		s.logger.Warn("failed to publish event", "type", eventType, "migration", rec.MigrationID, "error", err)
	}
}
