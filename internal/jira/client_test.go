package jira

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "tok").WithRetryDelay(time.Millisecond)
	resp, err := c.Do(context.Background(), http.MethodGet, "/rest/api/3/field", nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "tok").WithRetryDelay(time.Millisecond)
	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	if err == nil || !strings.Contains(err.Error(), "max retries") {
		t.Fatalf("expected max retries error, got %v", err)
	}
	if StatusCode(err) != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", StatusCode(err))
	}
}

func TestDoReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errorMessages":["nope"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "user", "tok")
	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden || !strings.Contains(apiErr.Body, "nope") {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestAuthHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "me@example.com", "secret").Fields(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "Basic ") {
		t.Errorf("Authorization = %q, want basic", got)
	}
	if _, err := NewClient(srv.URL, "", "pat").Fields(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer pat" {
		t.Errorf("Authorization = %q, want bearer", got)
	}
}

func TestFieldsMapsSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":"summary","name":"Summary","custom":false,"schema":{"type":"string"}},
			{"id":"customfield_1","name":"Legacy","custom":true,"schema":{"type":"option","custom":"com.atlassian.jira.plugin.system.customfieldtypes:select"}},
			{"id":"customfield_2","name":"Bare","custom":true}
		]`))
	}))
	defer srv.Close()

	fields, err := NewClient(srv.URL, "", "").Fields(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 3 {
		t.Fatalf("got %d fields", len(fields))
	}
	if fields[0].CustomType != "unknown" || fields[0].Type != "string" {
		t.Errorf("system field = %+v", fields[0])
	}
	if fields[1].Type != "option" || !fields[1].Custom {
		t.Errorf("custom field = %+v", fields[1])
	}
	if fields[2].Type != "unknown" || fields[2].CustomType != "unknown" {
		t.Errorf("schema-less field = %+v", fields[2])
	}
}

func TestMoveTabFieldRequiresNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", "").MoveTabField(context.Background(), "1", "2", "customfield_2", "customfield_1")
	if StatusCode(err) != http.StatusOK {
		t.Errorf("expected APIError with status 200, got %v", err)
	}
}
