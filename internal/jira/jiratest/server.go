// Package jiratest provides an in-memory Jira REST server for tests.
package jiratest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/untoldecay/fieldmerge/internal/jira"
)

// Field is a field definition served by /rest/api/3/field.
type Field struct {
	ID         string
	Name       string
	Custom     bool
	Type       string
	CustomType string
}

// Tab holds ordered field placements.
type Tab struct {
	ID     int
	Name   string
	Fields []string
}

// Screen is a screen with tabs.
type Screen struct {
	ID   int
	Name string
	Tabs []*Tab
}

// Project is the project an issue belongs to.
type Project struct {
	ID   string
	Key  string
	Name string
}

// Issue is a stored issue.
type Issue struct {
	ID      string
	Key     string
	Project Project
	Fields  map[string]any
}

// Envelope selects how list endpoints wrap their payload.
type Envelope int

const (
	EnvelopeValues Envelope = iota // {"values": [...]}
	EnvelopeArray                  // [...]
	EnvelopeScreens                // {"screens": [...]}
)

// Server is a fake Jira site. Configure the exported maps before use; all
// access after Start must go through the methods.
type Server struct {
	mu sync.Mutex

	Fields   []Field
	Screens  []*Screen
	Contexts map[string][]map[string]any
	Issues   []*Issue

	// Envelope used by /field/{id}/screens and /field/{id}/contexts.
	Envelope Envelope

	// Failure injection, keyed by screen id or "screen/tab".
	TabListStatus   map[int]int
	TabFieldsStatus map[string]int
	AddFieldStatus  map[string]int
	MoveStatus      int
	UpdateFail      map[string]bool
	FieldsStatus    int
	SearchStatus    int
	// SearchFailAfter fails every search once this many have been served (0 disables).
	SearchFailAfter int

	searches []jira.SearchRequest
	updates  map[string]int
	moves    int

	srv *httptest.Server
}

// New returns a server with empty state.
func New() *Server {
	return &Server{
		Contexts:        map[string][]map[string]any{},
		TabListStatus:   map[int]int{},
		TabFieldsStatus: map[string]int{},
		AddFieldStatus:  map[string]int{},
		UpdateFail:      map[string]bool{},
		updates:         map[string]int{},
	}
}

// Start launches the HTTP server.
func (s *Server) Start() *Server {
	r := mux.NewRouter()
	api := r.PathPrefix("/rest/api/3").Subrouter()
	api.HandleFunc("/field", s.handleFields).Methods(http.MethodGet)
	api.HandleFunc("/field/{id}/screens", s.handleFieldScreens).Methods(http.MethodGet)
	api.HandleFunc("/field/{id}/contexts", s.handleFieldContexts).Methods(http.MethodGet)
	api.HandleFunc("/screens/{sid}/tabs", s.handleTabs).Methods(http.MethodGet)
	api.HandleFunc("/screens/{sid}/tabs/{tid}/fields", s.handleTabFields).Methods(http.MethodGet)
	api.HandleFunc("/screens/{sid}/tabs/{tid}/fields", s.handleAddTabField).Methods(http.MethodPost)
	api.HandleFunc("/screens/{sid}/tabs/{tid}/fields/{fid}/move", s.handleMove).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	api.HandleFunc("/issue/{id}", s.handleUpdateIssue).Methods(http.MethodPut)
	s.srv = httptest.NewServer(r)
	return s
}

// URL is the base URL of the running server.
func (s *Server) URL() string { return s.srv.URL }

// Close stops the server.
func (s *Server) Close() { s.srv.Close() }

// Client returns a jira client pointed at the server.
func (s *Server) Client() *jira.Client {
	return jira.NewClient(s.srv.URL, "test@example.com", "token").WithRetryDelay(0)
}

// AddIssues appends n issues in project p with field set to value(i).
func (s *Server) AddIssues(n int, p Project, field string, value func(i int) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.Issues)
	for i := 0; i < n; i++ {
		id := strconv.Itoa(10000 + start + i)
		s.Issues = append(s.Issues, &Issue{
			ID:      id,
			Key:     fmt.Sprintf("%s-%d", p.Key, start+i+1),
			Project: p,
			Fields:  map[string]any{field: value(i)},
		})
	}
}

// Searches returns the search requests served so far.
func (s *Server) Searches() []jira.SearchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.searches)
}

// UpdateCount returns how many successful issue updates were served.
func (s *Server) UpdateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.updates {
		n += c
	}
	return n
}

// MoveCount returns how many successful reposition calls were served.
func (s *Server) MoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}

// IssueField returns a field value of an issue.
func (s *Server) IssueField(issueID, field string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, is := range s.Issues {
		if is.ID == issueID {
			return is.Fields[field]
		}
	}
	return nil
}

// TabFieldIDs returns the placements of a tab.
func (s *Server) TabFieldIDs(screenID, tabID int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tab(screenID, tabID); t != nil {
		return slices.Clone(t.Fields)
	}
	return nil
}

func (s *Server) screen(id int) *Screen {
	for _, sc := range s.Screens {
		if sc.ID == id {
			return sc
		}
	}
	return nil
}

func (s *Server) tab(screenID, tabID int) *Tab {
	sc := s.screen(screenID)
	if sc == nil {
		return nil
	}
	for _, t := range sc.Tabs {
		if t.ID == tabID {
			return t
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int) {
	writeJSON(w, status, map[string]any{"errorMessages": []string{http.StatusText(status)}})
}

func (s *Server) wrap(items []any) any {
	if items == nil {
		items = []any{}
	}
	switch s.Envelope {
	case EnvelopeArray:
		return items
	case EnvelopeScreens:
		return map[string]any{"total": len(items), "screens": items}
	default:
		return map[string]any{"startAt": 0, "maxResults": 100, "total": len(items), "isLast": true, "values": items}
	}
}

func (s *Server) handleFields(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FieldsStatus != 0 {
		writeError(w, s.FieldsStatus)
		return
	}
	out := make([]map[string]any, 0, len(s.Fields))
	for _, f := range s.Fields {
		m := map[string]any{"id": f.ID, "name": f.Name, "custom": f.Custom}
		if f.Type != "" {
			schema := map[string]any{"type": f.Type}
			if f.CustomType != "" {
				schema["custom"] = f.CustomType
			}
			m["schema"] = schema
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFieldScreens(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	field := mux.Vars(r)["id"]
	var items []any
	for _, sc := range s.Screens {
		for _, t := range sc.Tabs {
			if slices.Contains(t.Fields, field) {
				items = append(items, map[string]any{
					"id":   sc.ID,
					"name": sc.Name,
					"tab":  map[string]any{"id": t.ID, "name": t.Name},
				})
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, s.wrap(items))
}

func (s *Server) handleFieldContexts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []any
	for _, c := range s.Contexts[mux.Vars(r)["id"]] {
		items = append(items, c)
	}
	writeJSON(w, http.StatusOK, s.wrap(items))
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, _ := strconv.Atoi(mux.Vars(r)["sid"])
	if st := s.TabListStatus[sid]; st != 0 {
		writeError(w, st)
		return
	}
	sc := s.screen(sid)
	if sc == nil {
		writeError(w, http.StatusNotFound)
		return
	}
	out := make([]map[string]any, 0, len(sc.Tabs))
	for _, t := range sc.Tabs {
		out = append(out, map[string]any{"id": t.ID, "name": t.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) tabFromVars(r *http.Request) (string, *Tab) {
	v := mux.Vars(r)
	sid, _ := strconv.Atoi(v["sid"])
	tid, _ := strconv.Atoi(v["tid"])
	return v["sid"] + "/" + v["tid"], s.tab(sid, tid)
}

func (s *Server) handleTabFields(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, t := s.tabFromVars(r)
	if st := s.TabFieldsStatus[key]; st != 0 {
		writeError(w, st)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound)
		return
	}
	out := make([]map[string]any, 0, len(t.Fields))
	for _, f := range t.Fields {
		out = append(out, map[string]any{"id": f, "name": f})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddTabField(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, t := s.tabFromVars(r)
	if st := s.AddFieldStatus[key]; st != 0 {
		writeError(w, st)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound)
		return
	}
	var body struct {
		FieldID string `json:"fieldId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FieldID == "" {
		writeError(w, http.StatusBadRequest)
		return
	}
	if slices.Contains(t.Fields, body.FieldID) {
		writeError(w, http.StatusBadRequest)
		return
	}
	t.Fields = append(t.Fields, body.FieldID)
	writeJSON(w, http.StatusOK, map[string]any{"id": body.FieldID, "name": body.FieldID})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MoveStatus != 0 {
		writeError(w, s.MoveStatus)
		return
	}
	_, t := s.tabFromVars(r)
	field := mux.Vars(r)["fid"]
	var body struct {
		After string `json:"after"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || t == nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	from := slices.Index(t.Fields, field)
	if from < 0 || !slices.Contains(t.Fields, body.After) {
		writeError(w, http.StatusBadRequest)
		return
	}
	t.Fields = slices.Delete(t.Fields, from, from+1)
	to := slices.Index(t.Fields, body.After) + 1
	t.Fields = slices.Insert(t.Fields, to, field)
	s.moves++
	w.WriteHeader(http.StatusNoContent)
}

var (
	cfClause     = regexp.MustCompile(`^cf\[(\d+)\] is not EMPTY$`)
	quotedClause = regexp.MustCompile(`^("(?:[^"\\]|\\.)*") is not EMPTY$`)
)

func jqlField(jql string) (string, bool) {
	if m := cfClause.FindStringSubmatch(jql); m != nil {
		return "customfield_" + m[1], true
	}
	if m := quotedClause.FindStringSubmatch(jql); m != nil {
		f, err := strconv.Unquote(m[1])
		return f, err == nil
	}
	return "", false
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	var req jira.SearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	served := len(s.searches)
	s.searches = append(s.searches, req)
	if s.SearchStatus != 0 || (s.SearchFailAfter > 0 && served >= s.SearchFailAfter) {
		status := s.SearchStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeError(w, status)
		return
	}
	field, ok := jqlField(strings.TrimSpace(req.JQL))
	if !ok {
		writeError(w, http.StatusBadRequest)
		return
	}

	var matched []*Issue
	for _, is := range s.Issues {
		if v, ok := is.Fields[field]; ok && v != nil {
			matched = append(matched, is)
		}
	}

	page := []map[string]any{}
	for i := req.StartAt; i < len(matched) && i < req.StartAt+req.MaxResults; i++ {
		is := matched[i]
		fields := map[string]any{}
		for _, f := range req.Fields {
			if f == "project" {
				fields["project"] = map[string]any{"id": is.Project.ID, "key": is.Project.Key, "name": is.Project.Name}
				continue
			}
			if v, ok := is.Fields[f]; ok {
				fields[f] = v
			}
		}
		page = append(page, map[string]any{"id": is.ID, "key": is.Key, "fields": fields})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"startAt":    req.StartAt,
		"maxResults": req.MaxResults,
		"total":      len(matched),
		"issues":     page,
	})
}

func (s *Server) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	if s.UpdateFail[id] {
		writeError(w, http.StatusBadRequest)
		return
	}
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest)
		return
	}
	for _, is := range s.Issues {
		if is.ID == id {
			for k, v := range body.Fields {
				is.Fields[k] = v
			}
			s.updates[id]++
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound)
}
