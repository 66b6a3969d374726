package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/emperorhan/atomic-activity/internal/cache"
	"github.com/emperorhan/atomic-activity/internal/domain/model"
	"github.com/emperorhan/atomic-activity/internal/metrics"
	"github.com/emperorhan/atomic-activity/internal/pipeline"
	"github.com/emperorhan/atomic-activity/internal/pipeline/cursor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBodyBytes is the maximum allowed size for request bodies (1 MB).
const maxRequestBodyBytes = 1 << 20

const (
	defaultMaxSessions = 1000
	defaultSessionTTL  = 30 * time.Minute
)

// SessionFactory builds an empty cursor session.
type SessionFactory func() *cursor.Session

// HealthProvider exposes reconciler health.
type HealthProvider interface {
	Snapshot() pipeline.HealthSnapshot
}

// Server serves the session API.
type Server struct {
	newSession  SessionFactory
	sessions    *cache.LRU[string, *cursor.Session]
	health      HealthProvider
	limiter     *RateLimiter
	maxSessions int
	sessionTTL  time.Duration
	logger      *slog.Logger
}

// ServerOption configures optional Server dependencies.
type ServerOption func(*Server)

// WithHealthProvider enables GET /healthz.
func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.health = hp }
}

// WithRateLimiter throttles requests per client IP.
func WithRateLimiter(rl *RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithSessionLimits bounds how many sessions are held and how long an idle
// one survives.
func WithSessionLimits(maxSessions int, ttl time.Duration) ServerOption {
	return func(s *Server) {
		if maxSessions > 0 {
			s.maxSessions = maxSessions
		}
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func NewServer(newSession SessionFactory, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		newSession:  newSession,
		maxSessions: defaultMaxSessions,
		sessionTTL:  defaultSessionTTL,
		logger:      logger.With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sessions = cache.NewLRU(s.maxSessions, s.sessionTTL,
		cache.WithSlidingTTL[string, *cursor.Session](),
		cache.WithEvictCallback(func(string, *cursor.Session) {
			metrics.SessionsActive.Dec()
		}),
	)
	return s
}

// SweepSessions drops expired sessions every interval until ctx is done.
// Without it a session nobody touches again would stay counted as active.
func (s *Server) SweepSessions(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepSessions()
		}
	}
}

func (s *Server) sweepSessions() int {
	n := s.sessions.PurgeExpired()
	if n > 0 {
		s.logger.Debug("expired idle sessions", "count", n, "remaining", s.sessions.Len())
	}
	return n
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/next", s.handleNext)
	mux.HandleFunc("POST /v1/sessions/{id}/previous", s.handlePrevious)
	mux.HandleFunc("POST /v1/sessions/{id}/sort", s.handleSort)
	mux.HandleFunc("POST /v1/sessions/{id}/scope", s.handleScope)
	mux.HandleFunc("POST /v1/sessions/{id}/refresh", s.handleRefresh)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.limiter != nil {
		return s.limiter.Wrap(mux)
	}
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

type scopeRequest struct {
	AssetID         string `json:"asset_id"`
	Address         string `json:"address"`
	IncludeIncoming bool   `json:"include_incoming"`
	Viewer          string `json:"viewer"`
	From            int64  `json:"from"`
	To              int64  `json:"to"`
}

func (r scopeRequest) scope() model.Scope {
	return model.Scope{
		AssetID:         r.AssetID,
		Address:         r.Address,
		IncludeIncoming: r.IncludeIncoming,
		Viewer:          r.Viewer,
		DateRange:       model.DateRange{From: r.From, To: r.To},
	}
}

type createSessionRequest struct {
	scopeRequest
	Sort string `json:"sort"`
}

type sortRequest struct {
	Sort string `json:"sort"`
}

type sessionResponse struct {
	SessionID string      `json:"session_id"`
	Scope     model.Scope `json:"scope"`
	View      model.View  `json:"view"`
}

func (s *Server) respondView(w http.ResponseWriter, r *http.Request, status int, id string, sess *cursor.Session) {
	writeJSON(w, status, sessionResponse{
		SessionID: id,
		Scope:     sess.Scope(),
		View:      sess.View(r.Context()),
	})
}

// lookupSession resolves the {id} path value. Returns false (and writes a
// 404) when the session is unknown or expired.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (string, *cursor.Session, bool) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return id, nil, false
	}
	return id, sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	order, err := model.ParseSortOrder(req.Sort)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scope := req.scope()
	if err := scope.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess := s.newSession()
	sess.SetSortOrder(order)
	if err := sess.SetScope(r.Context(), scope); err != nil {
		s.logger.Error("session reconcile failed", "scope", scope.Key(), "error", err)
		writeError(w, http.StatusBadGateway, "reconcile failed")
		return
	}

	id := uuid.NewString()
	s.sessions.Put(id, sess)
	metrics.SessionsActive.Inc()
	s.logger.Info("session created", "session_id", id, "scope", scope.Key(), "sort", order)

	s.respondView(w, r, http.StatusCreated, id, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	s.respondView(w, r, http.StatusOK, id, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Delete(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.Next()
	s.respondView(w, r, http.StatusOK, id, sess)
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	sess.Previous()
	s.respondView(w, r, http.StatusOK, id, sess)
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req sortRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	order, err := model.ParseSortOrder(req.Sort)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess.SetSortOrder(order)
	s.respondView(w, r, http.StatusOK, id, sess)
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req scopeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	scope := req.scope()
	if err := scope.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := sess.SetScope(r.Context(), scope); err != nil {
		s.writeReconcileError(w, id, err)
		return
	}
	s.respondView(w, r, http.StatusOK, id, sess)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if err := sess.Refresh(r.Context()); err != nil {
		s.writeReconcileError(w, id, err)
		return
	}
	s.respondView(w, r, http.StatusOK, id, sess)
}

func (s *Server) writeReconcileError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, cursor.ErrSuperseded) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Error("session reconcile failed", "session_id", id, "error", err)
	writeError(w, http.StatusBadGateway, "reconcile failed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeError(w, http.StatusServiceUnavailable, "health provider not available")
		return
	}
	snap := s.health.Snapshot()
	status := http.StatusOK
	if snap.Status == string(pipeline.HealthStatusUnhealthy) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snap)
}
