// Package httpapi serves the consolidation surface over HTTP.
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/untoldecay/fieldmerge/internal/consolidate"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// Engine is the consolidation surface the handlers call.
type Engine interface {
	ListCustomFields(ctx context.Context) ([]types.Field, error)
	GetFieldUsage(ctx context.Context, fieldID string) (types.FieldUsage, error)
	CheckCompatibility(ctx context.Context, sourceID, targetID string) (types.Compatibility, error)
	Analyze(ctx context.Context, sourceID, targetID string) (*types.AnalysisReport, error)
	StartMigration(ctx context.Context, sourceID, targetID string) (string, error)
	GetMigrationStatus(ctx context.Context, migrationID string) (*types.MigrationRecord, error)
	ListMigrationHistory(ctx context.Context) ([]*types.MigrationRecord, error)
}

// Handler holds the routes.
type Handler struct {
	engine  Engine
	logger  *slog.Logger
	version string

	streamInterval time.Duration
}

// StartRequest is the body of POST /api/migrations.
type StartRequest struct {
	SourceFieldID string `json:"sourceFieldId"`
	TargetFieldID string `json:"targetFieldId"`
}

// StartResponse is returned with 202 Accepted.
type StartResponse struct {
	MigrationID string `json:"migrationId"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string               `json:"error"`
	Validation *types.Compatibility `json:"validation,omitempty"`
}

// New returns a Handler.
func New(engine Engine, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{engine: engine, logger: logger, version: version, streamInterval: 500 * time.Millisecond}
}

// Router mounts every route.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.logRequests)

	router.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.rejectCrossOrigin)
	api.HandleFunc("/fields", h.HandleListFields).Methods(http.MethodGet)
	api.HandleFunc("/fields/{id}/usage", h.HandleFieldUsage).Methods(http.MethodGet)
	api.HandleFunc("/compatibility", h.HandleCompatibility).Methods(http.MethodGet)
	api.HandleFunc("/analysis", h.HandleAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/migrations", h.HandleStartMigration).Methods(http.MethodPost)
	api.HandleFunc("/migrations", h.HandleListMigrations).Methods(http.MethodGet)
	api.HandleFunc("/migrations/{id}", h.HandleGetMigration).Methods(http.MethodGet)
	api.HandleFunc("/migrations/{id}/stream", h.HandleStreamMigration).Methods(http.MethodGet)
	return router
}

// NewServer wraps a handler with the daemon's timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// HandleHealth handles GET /healthz
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// HandleListFields handles GET /api/fields
func (h *Handler) HandleListFields(w http.ResponseWriter, r *http.Request) {
	fields, err := h.engine.ListCustomFields(r.Context())
	h.reply(w, r, http.StatusOK, fields, err)
}

// HandleFieldUsage handles GET /api/fields/{id}/usage
func (h *Handler) HandleFieldUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.engine.GetFieldUsage(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, http.StatusOK, usage, err)
}

// HandleCompatibility handles GET /api/compatibility?source=&target=
func (h *Handler) HandleCompatibility(w http.ResponseWriter, r *http.Request) {
	source, target, ok := pairQuery(w, r)
	if !ok {
		return
	}
	result, err := h.engine.CheckCompatibility(r.Context(), source, target)
	h.reply(w, r, http.StatusOK, result, err)
}

// HandleAnalysis handles GET /api/analysis?source=&target=
func (h *Handler) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	source, target, ok := pairQuery(w, r)
	if !ok {
		return
	}
	report, err := h.engine.Analyze(r.Context(), source, target)
	h.reply(w, r, http.StatusOK, report, err)
}

// HandleStartMigration handles POST /api/migrations
func (h *Handler) HandleStartMigration(w http.ResponseWriter, r *http.Request) {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{Error: "content type must be application/json"})
		return
	}
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	id, err := h.engine.StartMigration(r.Context(), strings.TrimSpace(req.SourceFieldID), strings.TrimSpace(req.TargetFieldID))
	h.reply(w, r, http.StatusAccepted, StartResponse{MigrationID: id}, err)
}

// HandleGetMigration handles GET /api/migrations/{id}
func (h *Handler) HandleGetMigration(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetMigrationStatus(r.Context(), mux.Vars(r)["id"])
	h.reply(w, r, http.StatusOK, rec, err)
}

// HandleListMigrations handles GET /api/migrations
func (h *Handler) HandleListMigrations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.ListMigrationHistory(r.Context())
	if recs == nil {
		recs = []*types.MigrationRecord{}
	}
	h.reply(w, r, http.StatusOK, recs, err)
}

// rejectCrossOrigin refuses browser requests sent from another site.
func (h *Handler) rejectCrossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sameOrigin(r) {
			h.logger.Warn("rejected cross-origin request", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "cross-origin requests are not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sameOrigin reports whether the Origin header is absent or names the host
// the request was sent to.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func pairQuery(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	source, target := strings.TrimSpace(q.Get("source")), strings.TrimSpace(q.Get("target"))
	if source == "" || target == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "source and target query parameters are required"})
		return "", "", false
	}
	return source, target, true
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err == nil {
		writeJSON(w, status, v)
		return
	}

	kind, incompatible := consolidate.Classify(err)
	body := ErrorResponse{Error: err.Error()}
	if incompatible != nil {
		body.Validation = &incompatible.Result
	}
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, body)
}

func statusFor(kind consolidate.ErrorKind) int {
	switch kind {
	case consolidate.KindInvalid, consolidate.KindIncompatible:
		return http.StatusBadRequest
	case consolidate.KindNotFound:
		return http.StatusNotFound
	case consolidate.KindRunning:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the logging middleware.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}
