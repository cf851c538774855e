// Package server - server.go exposes a monitoring session over HTTP.
//
// DESIGN: Thin JSON surface over monitoring.Session:
//   - POST /v1/monitor:   CallRequest body → Snapshot
//   - POST /v1/outcomes:  CallResult body → 202 Accepted
//   - GET  /v1/alerts:    recent alert log, ?limit=N
//   - GET  /stats:        session counters as JSON
//   - GET  /metrics:      Prometheus exposition
//   - GET  /healthz:      liveness
//
// The session never fails a check, so the only error statuses come from
// the request itself (405, 400, 413).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/callrisk/internal/config"
	"github.com/compresr/callrisk/internal/monitoring"
)

// Version is reported by /healthz.
const Version = "0.1.0"

// DefaultAlertLimit is the /v1/alerts page size when ?limit is absent.
const DefaultAlertLimit = 20

// Server serves one monitoring session.
type Server struct {
	session *monitoring.Session
	mux     *http.ServeMux
	server  *http.Server
	now     func() time.Time
}

// New creates a server for session listening on addr.
func New(session *monitoring.Session, addr string) *Server {
	s := &Server{
		session: session,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.DefaultServerReadTimeout,
		WriteTimeout: config.DefaultServerWriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/v1/monitor", s.handleMonitor)
	s.mux.HandleFunc("/v1/outcomes", s.handleOutcome)
	s.mux.HandleFunc("/v1/alerts", s.handleAlerts)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.Handle("/metrics", s.session.Exporter().Handler())
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// Handler returns the routed handler wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// Start listens until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Str("session_id", s.session.ID()).Msg("server: listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// =============================================================================
// HANDLERS
// =============================================================================

// handleMonitor runs a pre-call check.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	req, err := ParseCallRequest(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap := s.session.MonitorBeforeCall(r.Context(), req)
	writeJSON(w, http.StatusOK, snap)
}

// handleOutcome records the result of an executed call.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	res, err := ParseCallResult(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.session.RecordCallResult(r.Context(), res)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "call_id": res.CallID})
}

// handleAlerts returns the newest alert log entries.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := DefaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, config.MaxAlertLogEntries)
	}

	alertLog := s.session.AlertLog()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":  alertLog.Total(),
		"alerts": alertLog.Recent(limit),
	})
}

// handleStats returns session counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Stats().FullStats(s.now()))
}

// handleHealth returns liveness and the session id.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"time":       s.now().Format(time.RFC3339),
		"version":    Version,
		"session_id": s.session.ID(),
		"enabled":    s.session.Config().IsEnabled(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// readBody reads a size-limited body, writing 413 or 400 on failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		writeError(w, "failed to read request", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": msg, "type": "monitor_error"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("server: failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("server: request")
	})
}
