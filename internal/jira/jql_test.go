package jira

import "testing"

func TestPopulatedJQL(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"customfield_10010", "cf[10010] is not EMPTY"},
		{"customfield_abc", `"customfield_abc" is not EMPTY`},
		{"priority", `"priority" is not EMPTY`},
		{`we"ird`, `"we\"ird" is not EMPTY`},
	}
	for _, tt := range tests {
		if got := PopulatedJQL(tt.field); got != tt.want {
			t.Errorf("PopulatedJQL(%q) = %q, want %q", tt.field, got, tt.want)
		}
	}
}
