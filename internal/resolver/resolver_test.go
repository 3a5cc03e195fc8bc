package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/untoldecay/fieldmerge/internal/jira/jiratest"
)

func newFake(t *testing.T) *jiratest.Server {
	t.Helper()
	s := jiratest.New()
	s.Fields = []jiratest.Field{
		{ID: "summary", Name: "Summary", Type: "string"},
		{ID: "customfield_3", Name: "beta", Custom: true, Type: "string", CustomType: "com.atlassian.jira.plugin.system.customfieldtypes:textfield"},
		{ID: "customfield_1", Name: "Alpha", Custom: true, Type: "option", CustomType: "com.atlassian.jira.plugin.system.customfieldtypes:select"},
		{ID: "customfield_2", Name: "alpha", Custom: true, Type: "option", CustomType: "com.atlassian.jira.plugin.system.customfieldtypes:select"},
	}
	s.Screens = []*jiratest.Screen{
		{ID: 10, Name: "Default", Tabs: []*jiratest.Tab{{ID: 100, Name: "Field Tab", Fields: []string{"summary", "customfield_1"}}}},
		{ID: 11, Name: "Bug", Tabs: []*jiratest.Tab{{ID: 110, Name: "Main", Fields: []string{"customfield_1"}}}},
	}
	s.Contexts["customfield_1"] = []map[string]any{{"id": "10100", "name": "Default context"}}
	s.Start()
	t.Cleanup(s.Close)
	return s
}

func TestCustomFieldsSortedCaseInsensitive(t *testing.T) {
	s := newFake(t)
	r := New(s.Client(), nil)

	fields, err := r.CustomFields(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"customfield_1", "customfield_2", "customfield_3"}
	if len(fields) != len(want) {
		t.Fatalf("got %d fields, want %d", len(fields), len(want))
	}
	for i, f := range fields {
		if f.ID != want[i] {
			t.Errorf("fields[%d] = %s, want %s", i, f.ID, want[i])
		}
	}
}

func TestFieldPairNotFound(t *testing.T) {
	s := newFake(t)
	r := New(s.Client(), nil)

	src, tgt, err := r.FieldPair(context.Background(), "customfield_1", "customfield_2")
	if err != nil {
		t.Fatal(err)
	}
	if src.Name != "Alpha" || tgt.Name != "alpha" {
		t.Errorf("got %q/%q", src.Name, tgt.Name)
	}

	_, _, err = r.FieldPair(context.Background(), "customfield_1", "customfield_999")
	if !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}
	if _, err := r.Field(context.Background(), "nope"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestFieldNotFoundSuggests(t *testing.T) {
	s := newFake(t)
	r := New(s.Client(), nil)

	_, err := r.Field(context.Background(), "customfield_22")
	if !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "did you mean customfield_2?") {
		t.Errorf("error = %v", err)
	}

	_, err = r.Field(context.Background(), "nope")
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("unexpected suggestion: %v", err)
	}
}

func TestScreensAcrossEnvelopes(t *testing.T) {
	for _, env := range []jiratest.Envelope{jiratest.EnvelopeValues, jiratest.EnvelopeArray, jiratest.EnvelopeScreens} {
		s := newFake(t)
		s.Envelope = env
		r := New(s.Client(), nil)

		screens := r.Screens(context.Background(), "customfield_1")
		if len(screens) != 2 {
			t.Fatalf("envelope %d: got %d screens, want 2", env, len(screens))
		}
		if screens[0].ID != "10" || screens[1].ID != "11" {
			t.Errorf("envelope %d: ids = %s,%s", env, screens[0].ID, screens[1].ID)
		}
	}
}

func TestUsage(t *testing.T) {
	s := newFake(t)
	r := New(s.Client(), nil)

	usage := r.Usage(context.Background(), "customfield_1")
	if len(usage.Screens) != 2 || len(usage.Contexts) != 1 {
		t.Fatalf("usage = %+v", usage)
	}
	if usage.Contexts[0].Name != "Default context" {
		t.Errorf("context = %+v", usage.Contexts[0])
	}

	empty := r.Usage(context.Background(), "customfield_3")
	if empty.Screens == nil || empty.Contexts == nil {
		t.Error("usage slices should be empty, not nil")
	}
}

func TestTabsReturnsTransportError(t *testing.T) {
	s := newFake(t)
	s.TabListStatus[11] = http.StatusInternalServerError
	r := New(s.Client(), nil)

	tabs, err := r.Tabs(context.Background(), "10")
	if err != nil || len(tabs) != 1 || tabs[0].ID != "100" {
		t.Fatalf("tabs = %+v, err = %v", tabs, err)
	}
	if _, err := r.Tabs(context.Background(), "11"); err == nil {
		t.Error("expected error for failing tab list")
	}

	fields, err := r.TabFields(context.Background(), "10", "100")
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 2 || fields[1].ID != "customfield_1" {
		t.Errorf("tab fields = %+v", fields)
	}
}
