// Package notify publishes migration lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/untoldecay/fieldmerge/internal/types"
)

// Event types.
const (
	EventStarted   = "migration.started"
	EventProgress  = "migration.progress"
	EventCompleted = "migration.completed"
	EventFailed    = "migration.failed"
)

// Event is a snapshot of a migration at a lifecycle point.
type Event struct {
	Type          string       `json:"type"`
	MigrationID   string       `json:"migrationId"`
	SourceFieldID string       `json:"sourceFieldId"`
	TargetFieldID string       `json:"targetFieldId"`
	Status        types.Status `json:"status"`
	TotalIssues   int          `json:"totalIssues"`
	Progress      int          `json:"issueMigrationProgress"`
	Error         string       `json:"error,omitempty"`
	Time          time.Time    `json:"time"`
}

// NewEvent builds an event from a record.
func NewEvent(eventType string, rec *types.MigrationRecord) Event {
	return Event{
		Type:          eventType,
		MigrationID:   rec.MigrationID,
		SourceFieldID: rec.SourceFieldID,
		TargetFieldID: rec.TargetFieldID,
		Status:        rec.Status,
		TotalIssues:   rec.TotalIssues,
		Progress:      rec.IssueMigrationProgress,
		Error:         rec.Error,
		Time:          time.Now().UTC(),
	}
}

// Topic is the subject an event is published under.
func Topic(base string, ev Event) string {
	return strings.TrimRight(base, "/") + "/" + ev.MigrationID + "/" + strings.TrimPrefix(ev.Type, "migration.")
}

// Encode serializes an event.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Publisher delivers events. Delivery is best effort; callers log errors
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop drops every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() {}

// Multi delivers each event to every publisher in order.
type Multi []Publisher

// Publish fans ev out and joins the failures.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends ev.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Close does nothing.
func (r *Recorder) Close() {}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
