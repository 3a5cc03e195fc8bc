package types

import (
	"encoding/json"
	"testing"
)

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{`10000`, "10000"},
		{`"customfield_10010"`, "customfield_10010"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id ID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, id, tt.want)
		}
	}

	var screen Screen
	if err := json.Unmarshal([]byte(`{"id": 3, "name": "Default"}`), &screen); err != nil {
		t.Fatalf("Unmarshal screen: %v", err)
	}
	if n, ok := screen.ID.Int64(); !ok || n != 3 {
		t.Errorf("screen.ID.Int64() = %d, %v; want 3, true", n, ok)
	}
}

func TestIDUnmarshalRejectsObjects(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte(`{"a":1}`), &id); err == nil {
		t.Error("expected error for object id")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusInProgress.IsTerminal() {
		t.Error("IN_PROGRESS must not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusError.IsTerminal() {
		t.Error("COMPLETED and ERROR must be terminal")
	}
	if Status("PAUSED").IsValid() {
		t.Error("unknown status reported valid")
	}
}

func TestMigrationRecordValidate(t *testing.T) {
	valid := MigrationRecord{
		MigrationID: "m1",
		Status:      StatusInProgress,
		TotalIssues: 10,
		Screens:     ScreenProgress{Total: 2, Processed: 2, Succeeded: 1, Failed: 1},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	overrun := valid
	overrun.IssueMigrationProgress = 11
	if err := overrun.Validate(); err == nil {
		t.Error("expected error when progress exceeds total")
	}

	badScreens := valid
	badScreens.Screens.Processed = 3
	if err := badScreens.Validate(); err == nil {
		t.Error("expected error when processed != succeeded + failed")
	}

	noMessage := valid
	noMessage.Status = StatusError
	if err := noMessage.Validate(); err == nil {
		t.Error("expected error for ERROR status without message")
	}
}

func TestFailedCritical(t *testing.T) {
	c := Compatibility{Rules: []RuleResult{
		{Rule: "a", Valid: false},
		{Rule: "b", Valid: false, Critical: true},
		{Rule: "c", Valid: true, Critical: true},
	}}
	got := c.FailedCritical()
	if len(got) != 1 || got[0].Rule != "b" {
		t.Errorf("FailedCritical() = %+v, want only rule b", got)
	}
}
