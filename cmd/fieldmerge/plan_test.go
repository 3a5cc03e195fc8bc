package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPlan(t *testing.T) {
	path := writePlan(t, `
[[pair]]
name = "priority"
source = "customfield_1"
target = "customfield_2"

[[pair]]
source = "customfield_3"
target = "customfield_4"
`)
	plan, err := loadPlan(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Pairs) != 2 {
		t.Fatalf("pairs = %+v", plan.Pairs)
	}
	if plan.Pairs[0].label() != "priority" || plan.Pairs[1].label() != "customfield_3 → customfield_4" {
		t.Errorf("labels = %q, %q", plan.Pairs[0].label(), plan.Pairs[1].label())
	}
}

func TestLoadPlanRejects(t *testing.T) {
	tests := map[string]string{
		"empty":       ``,
		"missing":     "[[pair]]\nsource = \"a\"\n",
		"unknown key": "[[pair]]\nsource = \"a\"\ntarget = \"b\"\ntargte = \"c\"\n",
		"bad toml":    "[[pair]\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadPlan(writePlan(t, body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRunPlan(t *testing.T) {
	b := newFakeBackend()
	b.compatible[pairKey("a", "b")] = true
	b.compatible[pairKey("c", "d")] = false
	b.compatible[pairKey("e", "f")] = true
	b.fail[pairKey("e", "f")] = "batch failed"

	plan := &Plan{Pairs: []PlanPair{
		{Source: "a", Target: "b"},
		{Source: "c", Target: "d"},
		{Source: "missing", Target: "x"},
		{Source: "e", Target: "f"},
	}}
	var out bytes.Buffer
	results := runPlan(context.Background(), b, plan, false, time.Millisecond, nil, &out)

	want := []string{planCompleted, planIncompatible, planError, planFailed}
	if len(results) != len(want) {
		t.Fatalf("results = %+v", results)
	}
	for i, w := range want {
		if results[i].Outcome != w {
			t.Errorf("pair %d outcome = %q, want %q (%s)", i, results[i].Outcome, w, results[i].Error)
		}
	}
	if results[0].MigrationID == "" {
		t.Error("completed pair has no migration id")
	}
	if !strings.Contains(results[1].Error, "select") {
		t.Errorf("incompatible reason = %q", results[1].Error)
	}
	if len(b.started) != 2 {
		t.Errorf("started = %v", b.started)
	}
	if !strings.Contains(out.String(), "[4/4]") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunPlanDryRun(t *testing.T) {
	b := newFakeBackend()
	b.compatible[pairKey("a", "b")] = true

	results := runPlan(context.Background(), b, &Plan{Pairs: []PlanPair{{Source: "a", Target: "b"}}}, true, time.Millisecond, nil, &bytes.Buffer{})
	if results[0].Outcome != planCompatible {
		t.Errorf("outcome = %q", results[0].Outcome)
	}
	if len(b.started) != 0 {
		t.Error("dry run started a migration")
	}
}
