// Package fieldmerge provides a minimal public API for consolidating Jira
// custom fields from Go programs.
//
// Most callers should run the fieldmerge CLI or talk to its daemon. This
// package exports the types and constructors needed to embed the
// consolidation engine directly.
package fieldmerge

import (
	"context"

	"github.com/untoldecay/fieldmerge/internal/consolidate"
	"github.com/untoldecay/fieldmerge/internal/conversion"
	"github.com/untoldecay/fieldmerge/internal/jira"
	"github.com/untoldecay/fieldmerge/internal/state"
	"github.com/untoldecay/fieldmerge/internal/storage"
	"github.com/untoldecay/fieldmerge/internal/storage/memory"
	"github.com/untoldecay/fieldmerge/internal/storage/sqlite"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// Service runs compatibility checks, analyses and migrations.
type Service = consolidate.Service

// Options configure a Service.
type Options = consolidate.Options

// JiraClient talks to the Jira Cloud REST API.
type JiraClient = jira.Client

// Storage is the durable store for migration records.
type Storage = storage.KV

// IncompatibleError is returned by StartMigration when a critical rule fails.
type IncompatibleError = consolidate.IncompatibleError

// Core types from internal/types
type (
	Field           = types.Field
	FieldUsage      = types.FieldUsage
	Screen          = types.Screen
	FieldContext    = types.FieldContext
	Status          = types.Status
	MigrationRecord = types.MigrationRecord
	ScreenProgress  = types.ScreenProgress
	RuleResult      = types.RuleResult
	Compatibility   = types.Compatibility
	AnalysisReport  = types.AnalysisReport
	FieldAnalysis   = types.FieldAnalysis
)

// Status constants
const (
	StatusInProgress = types.StatusInProgress
	StatusCompleted  = types.StatusCompleted
	StatusError      = types.StatusError
)

// ErrMigrationRunning is returned when the pair already has a run in progress.
var ErrMigrationRunning = consolidate.ErrMigrationRunning

// NewJiraClient returns a client authenticated with an account email and API token.
func NewJiraClient(baseURL, username, apiToken string) *JiraClient {
	return jira.NewClient(baseURL, username, apiToken)
}

// NewSQLiteStorage opens (or creates) a SQLite record store at path.
func NewSQLiteStorage(ctx context.Context, path string) (Storage, error) {
	s, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemoryStorage returns a store that lives as long as the process.
func NewMemoryStorage() Storage {
	return memory.New()
}

// NewService wires a Jira client and record store into a Service. Call
// Wait before closing the store to let background migrations finish.
func NewService(client *JiraClient, store Storage, opts Options) *Service {
	return consolidate.New(client, state.New(store), opts)
}

// Evaluate runs the conversion rules for a field pair without touching Jira.
func Evaluate(source, target Field) Compatibility {
	return conversion.Evaluate(conversion.PairOf(source, target))
}
