package utils

import "testing"

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"Priority", "priority", 0},
		{"customfield_10010", "customfield_10020", 1},
		{"größe", "grösse", 2},
	}
	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestClosest(t *testing.T) {
	ids := []string{"customfield_10010", "customfield_10020", "summary"}

	if got, ok := Closest("customfield_1001", ids, 2); !ok || got != "customfield_10010" {
		t.Errorf("Closest = %q, %v", got, ok)
	}
	if _, ok := Closest("assignee", ids, 2); ok {
		t.Error("nothing should be within 2 edits of assignee")
	}
	if _, ok := Closest("summary", []string{"summary"}, 2); ok {
		t.Error("an exact match is not a suggestion")
	}
}

func TestFuzzyMatch(t *testing.T) {
	tests := []struct {
		query, target string
		want          bool
	}{
		{"", "anything", true},
		{"lprio", "Legacy Priority", true},
		{"PRIO", "priority", true},
		{"oirp", "priority", false},
		{"priorityx", "priority", false},
	}
	for _, tt := range tests {
		if got := FuzzyMatch(tt.query, tt.target); got != tt.want {
			t.Errorf("FuzzyMatch(%q, %q) = %v, want %v", tt.query, tt.target, got, tt.want)
		}
	}
}
