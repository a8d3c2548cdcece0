// Package api exposes runs, issues and sources over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/apperr"
	"github.com/ppiankov/evalagent/internal/issue"
	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/orchestrator"
)

// Runner triggers and lists runs
type Runner interface {
	Trigger(ctx context.Context, req orchestrator.TriggerRequest) (orchestrator.TriggerResult, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// Issues reads and decides issues
type Issues interface {
	Get(ctx context.Context, id string) (*model.Issue, error)
	List(ctx context.Context, status model.IssueStatus, limit int) ([]model.Issue, error)
	Decide(ctx context.Context, id string, action issue.Action, actor string) (issue.Decision, error)
}

// Sources lists the source registry
type Sources interface {
	All(ctx context.Context) ([]model.Source, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the HTTP surface
type Server struct {
	runs    Runner
	issues  Issues
	sources Sources
	checks  map[string]Pinger
	cfg     model.APIConfig
	log     *zap.Logger
}

// NewServer creates a server. checks are pinged by GET /health.
func NewServer(cfg model.APIConfig, runs Runner, issues Issues, sources Sources, checks map[string]Pinger, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	return &Server{runs: runs, issues: issues, sources: sources, checks: checks, cfg: cfg, log: log}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Post("/runs", s.handleTriggerRun)
		r.Get("/runs", s.handleListRuns)

		r.Get("/issues", s.handleListIssues)
		r.Get("/issues/{id}", s.handleGetIssue)
		r.Post("/issues/{id}/decision", s.handleDecision)

		r.Get("/sources", s.handleListSources)
	})
	return r
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// runs execute inside the request
		WriteTimeout: 15 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server starting", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// errorResponse is the body of every error reply. A run that was created
// and then failed also reports its id and final status.
type errorResponse struct {
	Error       string          `json:"error"`
	Kind        string          `json:"kind,omitempty"`
	RunID       string          `json:"run_id,omitempty"`
	Status      model.RunStatus `json:"status,omitempty"`
	IssuesFound int             `json:"issues_found,omitempty"`
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				s.writeError(w, apperr.Unauthorized("missing or invalid bearer token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, status)
}

type triggerBody struct {
	RunType model.RunType `json:"run_type"`
	Scope   *model.Scope  `json:"scope"`
	DryRun  bool          `json:"dry_run"`
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var body triggerBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	req := orchestrator.TriggerRequest{
		RunType:     body.RunType,
		DryRun:      body.DryRun,
		TriggeredBy: "api",
	}
	if body.Scope != nil {
		req.Scope = *body.Scope
	}

	res, err := s.runs.Trigger(r.Context(), req)
	if err != nil {
		if res.RunID == "" {
			s.writeError(w, err)
			return
		}
		code, payload := s.errorPayload(err)
		payload.RunID = res.RunID
		payload.Status = res.Status
		payload.IssuesFound = res.IssuesFound
		writeJSON(w, code, payload)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := s.limit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	limit, err := s.limit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := model.IssueStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	issues, err := s.issues.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(issues))
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	got, err := s.issues.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

type decisionBody struct {
	Action issue.Action `json:"action"`
	Actor  string       `json:"actor"`
}

type decisionResponse struct {
	ID      string            `json:"id"`
	Status  model.IssueStatus `json:"status"`
	Applied any               `json:"applied,omitempty"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	dec, err := s.issues.Decide(r.Context(), id, body.Action, body.Actor)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := decisionResponse{ID: dec.Issue.ID, Status: dec.Issue.Status}
	if dec.Applied != nil {
		resp.Applied = dec.Applied
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sources.All(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sources))
}

func (s *Server) limit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return s.cfg.DefaultLimit, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, apperr.InvalidRequest("limit must be a positive integer")
	}
	return min(value, s.cfg.MaxLimit), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.InvalidRequest("invalid request body: %v", err)
	}
	return nil
}

// statusFor maps error kinds to HTTP status codes
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, payload := s.errorPayload(err)
	writeJSON(w, code, payload)
}

func (s *Server) errorPayload(err error) (int, errorResponse) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	return code, errorResponse{Error: err.Error(), Kind: string(apperr.KindOf(err))}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
