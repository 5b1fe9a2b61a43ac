// Package server exposes scans and the feed over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/steveyegge/pubhub/internal/auth"
	"github.com/steveyegge/pubhub/internal/jobs"
	"github.com/steveyegge/pubhub/internal/logger"
	"github.com/steveyegge/pubhub/internal/scan"
	"github.com/steveyegge/pubhub/internal/storage"
	"github.com/steveyegge/pubhub/internal/telemetry"
	"github.com/steveyegge/pubhub/internal/types"
)

// Scanner runs jobs on behalf of a request. *scan.Triggers satisfies it.
type Scanner interface {
	TriggerDeepScan(ctx context.Context, req scan.DeepScanRequest) (*scan.DeepScanResult, error)
	GenerateResponse(ctx context.Context, req scan.ResponseRequest) (*types.FeedItem, error)
	GenerateKeywords(ctx context.Context, req scan.KeywordsRequest) ([]string, error)
}

// FeedService reads and updates feed items. *scan.Coordinator satisfies it.
type FeedService interface {
	Feed(ctx context.Context, userID, projectID string, order storage.SortOrder) ([]*types.FeedItem, error)
	SetStatus(ctx context.Context, userID, projectID, itemID string, status types.FeedStatus) (*types.FeedItem, error)
	PublishResponse(ctx context.Context, userID, projectID, itemID string) (*types.FeedItem, error)
}

// Config holds server dependencies
type Config struct {
	Addr          string
	Auth          *auth.Authenticator
	Scanner       Scanner
	Feed          FeedService
	ShutdownGrace time.Duration // default 10s
	Logger        *zap.SugaredLogger
}

// Server is the HTTP API
type Server struct {
	cfg    Config
	router *mux.Router
	log    *zap.SugaredLogger
}

// New builds the router
func New(cfg Config) (*Server, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if cfg.Scanner == nil || cfg.Feed == nil {
		return nil, fmt.Errorf("scanner and feed service are required")
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get("server")
	}

	s := &Server{cfg: cfg, router: mux.NewRouter(), log: cfg.Logger}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.authenticate)
	v1.HandleFunc("/projects/{id}/scan", s.handleScan).Methods(http.MethodPost)
	v1.HandleFunc("/projects/{id}/keywords", s.handleKeywords).Methods(http.MethodPost)
	v1.HandleFunc("/projects/{id}/feed", s.handleFeed).Methods(http.MethodGet)
	v1.HandleFunc("/projects/{id}/feed/{itemId}", s.handleSetStatus).Methods(http.MethodPatch)
	v1.HandleFunc("/projects/{id}/feed/{itemId}/response", s.handleResponse).Methods(http.MethodPost)
	v1.HandleFunc("/projects/{id}/feed/{itemId}/publish", s.handlePublish).Methods(http.MethodPost)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	s.log.Infow("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

type contextKey struct{}

// userFrom returns the user set by authenticate
func userFrom(ctx context.Context) *auth.AuthenticatedUser {
	user, _ := ctx.Value(contextKey{}).(*auth.AuthenticatedUser)
	return user
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.cfg.Auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			s.respondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, user)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debugw("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// statusFor maps an error to an HTTP status and class
func statusFor(err error) (int, string) {
	if authErr, ok := auth.AsError(err); ok {
		return http.StatusUnauthorized, string(authErr.Code)
	}
	if errors.Is(err, jobs.ErrRateLimited) {
		return http.StatusTooManyRequests, string(scan.ClassTransient)
	}
	class := scan.Classify(err)
	switch class {
	case scan.ClassConfiguration:
		return http.StatusBadRequest, string(class)
	case scan.ClassReconnect:
		return http.StatusConflict, string(class)
	case scan.ClassTransient:
		return http.StatusServiceUnavailable, string(class)
	}
	return http.StatusInternalServerError, string(class)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	code, class := statusFor(err)
	if code >= 500 {
		s.log.Errorw("request failed", "status", code, "class", class, "error", err)
	}
	respondJSON(w, code, errorBody{Error: err.Error(), Class: class})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// decodeBody decodes an optional JSON body into v. An empty body is allowed.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// scanResponse is the reply to a scan trigger
type scanResponse struct {
	Scanned      int                `json:"scanned"`
	NewItems     int                `json:"newItems"`
	FailedForums []string           `json:"failedForums,omitempty"`
	Forums       []scan.ForumResult `json:"forums"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Forums []string `json:"forums"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	res, err := s.cfg.Scanner.TriggerDeepScan(r.Context(), scan.DeepScanRequest{
		UserID:    userFrom(r.Context()).ID,
		ProjectID: mux.Vars(r)["id"],
		Forums:    body.Forums,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, scanResponse{
		Scanned:      res.Scanned,
		NewItems:     res.NewItems,
		FailedForums: res.FailedForums(),
		Forums:       res.Forums,
	})
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := s.cfg.Scanner.GenerateKeywords(r.Context(), scan.KeywordsRequest{
		UserID:    userFrom(r.Context()).ID,
		ProjectID: mux.Vars(r)["id"],
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"keywords": keywords})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	order, err := storage.ParseSortOrder(r.URL.Query().Get("sort"))
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	items, err := s.cfg.Feed.Feed(r.Context(), userFrom(r.Context()).ID, mux.Vars(r)["id"], order)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status types.FeedStatus `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil || body.Status == "" {
		s.badRequest(w, "status is required")
		return
	}
	vars := mux.Vars(r)
	item, err := s.cfg.Feed.SetStatus(r.Context(), userFrom(r.Context()).ID, vars["id"], vars["itemId"], body.Status)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Persona string `json:"persona"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}
	vars := mux.Vars(r)
	item, err := s.cfg.Scanner.GenerateResponse(r.Context(), scan.ResponseRequest{
		UserID:     userFrom(r.Context()).ID,
		ProjectID:  vars["id"],
		FeedItemID: vars["itemId"],
		Persona:    body.Persona,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, err := s.cfg.Feed.PublishResponse(r.Context(), userFrom(r.Context()).ID, vars["id"], vars["itemId"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}
