package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/untoldecay/fieldmerge/internal/types"
)

func TestTopic(t *testing.T) {
	ev := Event{Type: EventProgress, MigrationID: "m1"}
	if got := Topic("fieldmerge/migrations/", ev); got != "fieldmerge/migrations/m1/progress" {
		t.Errorf("Topic = %q", got)
	}
}

func TestNewEventEncode(t *testing.T) {
	rec := &types.MigrationRecord{
		MigrationID:            "m1",
		SourceFieldID:          "customfield_1",
		TargetFieldID:          "customfield_2",
		Status:                 types.StatusError,
		TotalIssues:            4,
		IssueMigrationProgress: 2,
		Error:                  "boom",
	}
	data, err := Encode(NewEvent(EventFailed, rec))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != EventFailed || m["status"] != "ERROR" || m["error"] != "boom" {
		t.Errorf("payload = %s", data)
	}
	if m["issueMigrationProgress"] != float64(2) {
		t.Errorf("progress = %v", m["issueMigrationProgress"])
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_ = r.Publish(context.Background(), Event{Type: EventStarted})
	_ = r.Publish(context.Background(), Event{Type: EventCompleted})
	got := r.Types()
	if len(got) != 2 || got[0] != EventStarted || got[1] != EventCompleted {
		t.Errorf("types = %v", got)
	}
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Error(err)
	}
}

type failingPublisher struct{ closed bool }

func (f *failingPublisher) Publish(context.Context, Event) error { return errors.New("down") }
func (f *failingPublisher) Close()                               { f.closed = true }

func TestMultiDeliversDespiteFailures(t *testing.T) {
	bad := &failingPublisher{}
	rec := &Recorder{}
	m := Multi{bad, rec}

	err := m.Publish(context.Background(), Event{Type: EventStarted})
	if err == nil || err.Error() != "down" {
		t.Errorf("err = %v", err)
	}
	if got := rec.Types(); len(got) != 1 || got[0] != EventStarted {
		t.Errorf("recorded = %v", got)
	}
	m.Close()
	if !bad.closed {
		t.Error("Close not fanned out")
	}
}
