// Package types defines the core data structures shared by the fieldmerge engine.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is an identifier from the issue tracker. Jira encodes screen and tab
// ids as JSON numbers and field or context ids as strings; ID accepts both.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Int64 returns the id as an integer, or false if it is not numeric.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// UnknownType is used for the primitive and custom type of fields without a schema.
const UnknownType = "unknown"

// Field is a snapshot of a field definition. It is fetched per operation and
// never cached.
type Field struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	CustomType string `json:"customType"`
	Custom     bool   `json:"custom,omitempty"`
}

// Screen is a screen that references a field.
type Screen struct {
	ID          ID     `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Tab is one tab on a screen.
type Tab struct {
	ID   ID     `json:"id"`
	Name string `json:"name,omitempty"`
}

// TabField is a field placement on a tab.
type TabField struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// FieldContext scopes a custom field to projects or issue types. It is
// reported as-is and never modified.
type FieldContext struct {
	ID          ID     `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// FieldUsage lists where a field is configured.
type FieldUsage struct {
	Screens  []Screen       `json:"screens"`
	Contexts []FieldContext `json:"contexts"`
}

// Status is the lifecycle state of a migration.
type Status string

// Migration statuses. InProgress is the only initial state; Completed and
// Error are terminal.
const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusError      Status = "ERROR"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusError:
		return true
	}
	return false
}

// ScreenProgress tracks screen placement. Processed always equals
// Succeeded + Failed.
type ScreenProgress struct {
	Total     int      `json:"total"`
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Logs      []string `json:"logs"`
}

// MigrationRecord is the durable state of one consolidation run.
type MigrationRecord struct {
	MigrationID            string         `json:"migrationId"`
	SourceFieldID          string         `json:"sourceFieldId"`
	TargetFieldID          string         `json:"targetFieldId"`
	Status                 Status         `json:"status"`
	MigrationDate          time.Time      `json:"migrationDate"`
	TotalIssues            int            `json:"totalIssues"`
	IssueMigrationProgress int            `json:"issueMigrationProgress"`
	IssuesSkipped          int            `json:"issuesSkipped,omitempty"`
	IssuesFailed           int            `json:"issuesFailed,omitempty"`
	Screens                ScreenProgress `json:"screens"`
	Error                  string         `json:"error,omitempty"`
	CompletedAt            *time.Time     `json:"completedAt,omitempty"`
}

// Validate checks the record invariants.
func (r *MigrationRecord) Validate() error {
	if r.MigrationID == "" {
		return fmt.Errorf("migration id is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.IssueMigrationProgress > r.TotalIssues {
		return fmt.Errorf("progress %d exceeds total %d", r.IssueMigrationProgress, r.TotalIssues)
	}
	if r.Screens.Processed != r.Screens.Succeeded+r.Screens.Failed {
		return fmt.Errorf("screens processed %d != succeeded %d + failed %d",
			r.Screens.Processed, r.Screens.Succeeded, r.Screens.Failed)
	}
	if r.Status == StatusError && r.Error == "" {
		return fmt.Errorf("error status requires an error message")
	}
	return nil
}

// SameProgress reports whether two snapshots of a run show the same state.
func (r *MigrationRecord) SameProgress(o *MigrationRecord) bool {
	return r.Status == o.Status &&
		r.IssueMigrationProgress == o.IssueMigrationProgress &&
		r.TotalIssues == o.TotalIssues &&
		r.Screens.Processed == o.Screens.Processed
}

// RuleResult is the outcome of one conversion rule.
type RuleResult struct {
	Rule     string `json:"rule"`
	Valid    bool   `json:"valid"`
	Message  string `json:"message"`
	Critical bool   `json:"critical,omitempty"`
}

// Compatibility is the result of evaluating all conversion rules for a field pair.
type Compatibility struct {
	Valid bool         `json:"valid"`
	Rules []RuleResult `json:"rules"`
}

// FailedCritical returns the critical rules that did not pass.
func (c Compatibility) FailedCritical() []RuleResult {
	var out []RuleResult
	for _, r := range c.Rules {
		if r.Critical && !r.Valid {
			out = append(out, r)
		}
	}
	return out
}

// ProjectCount is the number of sampled issues per project.
type ProjectCount struct {
	ID    ID     `json:"id"`
	Key   string `json:"key"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// FieldAnalysis is one side of an analysis report.
type FieldAnalysis struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	CustomType      string         `json:"customType"`
	ValueCount      int            `json:"valueCount"`
	Screens         []Screen       `json:"screens"`
	ScreenCount     int            `json:"screenCount"`
	Contexts        []FieldContext `json:"contexts"`
	ContextCount    int            `json:"contextCount"`
	Projects        []ProjectCount `json:"projects"`
	ProjectCount    int            `json:"projectCount"`
	HasMoreProjects bool           `json:"hasMoreProjects"`
}

// AnalysisReport compares source and target fields side by side.
type AnalysisReport struct {
	SourceField FieldAnalysis `json:"sourceField"`
	TargetField FieldAnalysis `json:"targetField"`
	Validation  Compatibility `json:"validation"`
}
