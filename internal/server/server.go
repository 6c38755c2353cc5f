// Package server exposes Zudu voice sessions over HTTP: session creation,
// conversational turns, a retrieval debug endpoint, captured leads, health
// and readiness probes, and Prometheus metrics. It is started by
// `zudu serve`.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/zudu-go/internal/agent"
	"github.com/54b3r/zudu-go/internal/lead"
	"github.com/54b3r/zudu-go/internal/logging"
)

const (
	defaultTurnTimeout  = 60 * time.Second
	defaultMaxBodyBytes = 64 << 10
	defaultLeadsLimit   = 50
	maxLeadsLimit       = 500
)

// New constructs a Server. sessions and retriever are required; leads may be
// nil, in which case GET /api/leads returns 404.
func New(sessions *agent.Registry, retriever agent.Retriever, leads lead.Store, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("server: session registry must not be nil")
	}
	return newServer(sessions, retriever, leads, cfg)
}

func newServer(sessions sessionRegistry, retriever agent.Retriever, leads lead.Store, cfg *Config) (*Server, error) {
	if retriever == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.TurnTimeout == 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.TurnTimeout + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	log := logging.Component(cfg.Logger, "server")
	if cfg.APIKey == "" {
		log.Warn("server: ZUDU_API_KEY is not set, API authentication is disabled")
	}

	s := &Server{
		sessions:  sessions,
		retriever: retriever,
		leads:     leads,
		cfg:       cfg,
		log:       log,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.Registry, sessions.Len),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stopRL

	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(bodyLimit(cfg.MaxBodyBytes, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/sessions", s.instrument("sessions", protect(s.handleCreateSession)))
	mux.Handle("POST /api/sessions/{id}/turns", s.instrument("turns", protect(s.handleTurn)))
	mux.Handle("POST /api/retrieve", s.instrument("retrieve", protect(s.handleRetrieve)))
	mux.Handle("GET /api/leads", s.instrument("leads", protect(s.handleLeads)))
	mux.Handle("POST /api/cache/purge", s.instrument("cache_purge", protect(s.handlePurgeCache)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{Registry: cfg.Registry}))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           requestLogger(cfg.Logger, mux),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// LeadSaved counts a captured lead. It is passed to the save_lead tool.
func (s *Server) LeadSaved() { s.metrics.leadsSavedTotal.Inc() }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleCreateSession handles POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	sess, greeting, err := s.sessions.Create(r.Context())
	if err != nil {
		log.Error("create session failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	log.Info("session created", slog.String("session_id", sess.ID))
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID, Greeting: greeting})
}

// handleTurn handles POST /api/sessions/{id}/turns. The turn runs under
// TurnTimeout; an expired turn leaves the session history untouched.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	id := r.PathValue("id")

	var req turnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if agent.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Error("load session failed", slog.String("session_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	reply, err := sess.Turn(ctx, req.Text)
	outcome := "ok"
	switch {
	case err == nil:
	case r.Context().Err() != nil:
		outcome = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	s.metrics.turnsTotal.WithLabelValues(outcome).Inc()
	s.metrics.turnDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	switch outcome {
	case "timeout":
		log.Warn("turn timed out", slog.String("session_id", id), slog.Duration("timeout", s.cfg.TurnTimeout))
		writeError(w, http.StatusGatewayTimeout, "turn timed out")
	case "canceled":
		// The client is gone; nobody reads the response.
		log.Info("turn canceled by client", slog.String("session_id", id))
	case "error":
		log.Error("turn failed", slog.String("session_id", id), slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "the agent could not respond")
	default:
		writeJSON(w, http.StatusOK, turnResponse{Reply: reply})
	}
}

// handleRetrieve handles POST /api/retrieve. It returns the context block the
// agent would inject for query, served through the cache.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Context: s.retriever.Retrieve(r.Context(), req.Query)})
}

// handlePurgeCache handles POST /api/cache/purge. It clears this instance's
// retrieval cache and the shared tier, and is meant to follow `zudu ingest`.
func (s *Server) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	p, ok := s.retriever.(cachePurger)
	if !ok {
		writeError(w, http.StatusNotFound, "retrieval cache purge is not supported")
		return
	}
	if err := p.Purge(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("purge retrieval cache failed", slog.Any("error", err))
		writeError(w, http.StatusBadGateway, "local cache purged, shared cache invalidation failed")
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Status: "purged"})
}

// handleLeads handles GET /api/leads?limit=N, newest first.
func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	if s.leads == nil {
		writeError(w, http.StatusNotFound, "lead storage is not configured")
		return
	}
	limit := defaultLeadsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLeadsLimit)
	}

	leads, err := s.leads.Leads(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("list leads failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not list leads")
		return
	}
	if leads == nil {
		leads = []lead.Lead{}
	}
	writeJSON(w, http.StatusOK, leadsResponse{Leads: leads})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON decodes the request body into v, writing a 400 or 413 and
// returning false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
