package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/untoldecay/fieldmerge/internal/config"
	"github.com/untoldecay/fieldmerge/internal/consolidate"
	"github.com/untoldecay/fieldmerge/internal/debug"
	"github.com/untoldecay/fieldmerge/internal/hooks"
	"github.com/untoldecay/fieldmerge/internal/jira"
	"github.com/untoldecay/fieldmerge/internal/notify"
	"github.com/untoldecay/fieldmerge/internal/rpc"
	"github.com/untoldecay/fieldmerge/internal/state"
	"github.com/untoldecay/fieldmerge/internal/storage"
	"github.com/untoldecay/fieldmerge/internal/storage/memory"
	"github.com/untoldecay/fieldmerge/internal/storage/sqlite"
	"github.com/untoldecay/fieldmerge/internal/transfer"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// backend is the consolidation surface, local or through the daemon.
type backend interface {
	ListCustomFields(ctx context.Context) ([]types.Field, error)
	GetFieldUsage(ctx context.Context, fieldID string) (types.FieldUsage, error)
	CheckCompatibility(ctx context.Context, sourceID, targetID string) (types.Compatibility, error)
	Analyze(ctx context.Context, sourceID, targetID string) (*types.AnalysisReport, error)
	StartMigration(ctx context.Context, sourceID, targetID string) (string, error)
	GetMigrationStatus(ctx context.Context, migrationID string) (*types.MigrationRecord, error)
	ListMigrationHistory(ctx context.Context) ([]*types.MigrationRecord, error)
	Remote() bool
	Close() error
}

// openStore opens the configured KV store. ":memory:" selects the in-memory store.
func openStore(ctx context.Context) (storage.KV, error) {
	path := config.DBPath()
	if path == ":memory:" {
		return memory.New(), nil
	}
	store, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return store, nil
}

func newJiraClient(requireCredentials bool) (*jira.Client, error) {
	settings := config.JiraSettings()
	if requireCredentials {
		if err := settings.Validate(); err != nil {
			return nil, err
		}
	}
	client := jira.NewClient(settings.URL, settings.Username, settings.APIToken)
	if settings.Timeout > 0 {
		client = client.WithHTTPClient(&http.Client{Timeout: settings.Timeout})
	}
	return client, nil
}

// newPublisher sends events to the installed hooks and, when configured, the
// MQTT broker.
func newPublisher(log *slog.Logger) notify.Publisher {
	pubs := notify.Multi{hooks.NewRunnerFromDataDir(config.DataDir())}
	broker := config.BrokerSettings()
	if broker.URL == "" {
		return pubs
	}
	pub, err := notify.NewMQTTPublisher(notify.MQTTConfig{
		URL:      broker.URL,
		ClientID: broker.ClientID,
		Username: broker.Username,
		Password: broker.Password,
		Topic:    broker.Topic,
	}, log)
	if err != nil {
		log.Warn("event broker unavailable, continuing without events", "url", broker.URL, "error", err)
		return pubs
	}
	return append(pubs, pub)
}

// localBackend runs the engine in this process.
type localBackend struct {
	*consolidate.Service
	kv        storage.KV
	publisher notify.Publisher
}

func newLocalBackend(ctx context.Context, requireJira bool, log *slog.Logger) (*localBackend, error) {
	client, err := newJiraClient(requireJira)
	if err != nil {
		return nil, err
	}
	kv, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher := newPublisher(log)
	migration := config.MigrationSettings()
	svc := consolidate.New(client, state.New(kv), consolidate.Options{
		LockDir: config.DataDir(),
		Transfer: transfer.Options{
			BatchSize:    migration.BatchSize,
			PersistEvery: migration.PersistEvery,
		},
		Publisher: publisher,
		Logger:    log,
	})
	return &localBackend{Service: svc, kv: kv, publisher: publisher}, nil
}

func (b *localBackend) Remote() bool { return false }

// Close waits for in-flight runs before releasing the store.
func (b *localBackend) Close() error {
	b.Wait()
	b.publisher.Close()
	return b.kv.Close()
}

// remoteBackend forwards to a daemon.
type remoteBackend struct {
	client *rpc.Client
}

func (b *remoteBackend) Remote() bool { return true }

func (b *remoteBackend) Close() error { return b.client.Close() }

func (b *remoteBackend) ListCustomFields(ctx context.Context) ([]types.Field, error) {
	fields, err := b.client.WithContext(ctx).ListCustomFields()
	return fields, translateRPCError(err, "", "")
}

func (b *remoteBackend) GetFieldUsage(ctx context.Context, fieldID string) (types.FieldUsage, error) {
	usage, err := b.client.WithContext(ctx).FieldUsage(fieldID)
	return usage, translateRPCError(err, "", "")
}

func (b *remoteBackend) CheckCompatibility(ctx context.Context, sourceID, targetID string) (types.Compatibility, error) {
	result, err := b.client.WithContext(ctx).CheckCompatibility(sourceID, targetID)
	return result, translateRPCError(err, sourceID, targetID)
}

func (b *remoteBackend) Analyze(ctx context.Context, sourceID, targetID string) (*types.AnalysisReport, error) {
	report, err := b.client.WithContext(ctx).Analyze(sourceID, targetID)
	return report, translateRPCError(err, sourceID, targetID)
}

func (b *remoteBackend) StartMigration(ctx context.Context, sourceID, targetID string) (string, error) {
	id, err := b.client.WithContext(ctx).StartMigration(sourceID, targetID)
	return id, translateRPCError(err, sourceID, targetID)
}

func (b *remoteBackend) GetMigrationStatus(ctx context.Context, migrationID string) (*types.MigrationRecord, error) {
	rec, err := b.client.WithContext(ctx).MigrationStatus(migrationID)
	return rec, translateRPCError(err, "", "")
}

func (b *remoteBackend) ListMigrationHistory(ctx context.Context) ([]*types.MigrationRecord, error) {
	recs, err := b.client.WithContext(ctx).MigrationHistory()
	return recs, translateRPCError(err, "", "")
}

// translateRPCError restores the engine error types from a daemon failure.
func translateRPCError(err error, sourceID, targetID string) error {
	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case rpc.CodeIncompatible:
		if validation, ok := rpcErr.Incompatibility(); ok {
			return &consolidate.IncompatibleError{SourceFieldID: sourceID, TargetFieldID: targetID, Result: validation}
		}
	case rpc.CodeRunning:
		return consolidate.ErrMigrationRunning
	}
	return errors.New(rpcErr.Message)
}

// connectDaemon returns a daemon client, or nil when none is reachable.
func connectDaemon() *rpc.Client {
	if noDaemon {
		return nil
	}
	client, err := rpc.TryConnect(rpc.SocketPath(config.DataDir()))
	if err != nil {
		debug.Logf("daemon connect failed: %v", err)
		return nil
	}
	if client != nil && config.DBPath() != ":memory:" {
		if abs, err := filepath.Abs(config.DBPath()); err == nil {
			client.SetDatabasePath(abs)
		}
	}
	return client
}

// openBackend prefers a running daemon and falls back to the local engine.
// requireJira is false for commands that only read migration records.
func openBackend(ctx context.Context, requireJira bool) backend {
	if client := connectDaemon(); client != nil {
		debug.Logf("using daemon at %s", rpc.SocketPath(config.DataDir()))
		return &remoteBackend{client: client}
	}
	local, err := newLocalBackend(ctx, requireJira, logger)
	if err != nil {
		FatalError("%v", err)
	}
	return local
}
