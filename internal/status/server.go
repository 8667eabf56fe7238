// Package status serves a read-only HTTP view of the running controller.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/motionlightd/internal/config"
	"github.com/dokzlo13/motionlightd/internal/entity"
	"github.com/dokzlo13/motionlightd/internal/ledger"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 1000
)

// StateFunc returns a copy of the entity map, read on the controller worker.
type StateFunc func(ctx context.Context) (*entity.Snapshot, error)

// Readiness reports whether the broker connection is up.
type Readiness interface {
	HealthCheck(ctx context.Context) error
}

// CommandHistory lists recent ledger entries.
type CommandHistory interface {
	Recent(limit int) ([]*ledger.Entry, error)
}

// Server is the status HTTP server.
type Server struct {
	addr       string
	cfg        *config.Config
	state      StateFunc
	ready      Readiness
	history    CommandHistory
	httpServer *http.Server
}

// NewServer creates a status server. history may be nil when the ledger
// is disabled.
func NewServer(cfg *config.Config, state StateFunc, ready Readiness, history CommandHistory) *Server {
	return &Server{
		addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		cfg:     cfg,
		state:   state,
		ready:   ready,
		history: history,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/config", s.handleConfig)
	r.Get("/state", s.handleState)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/ledger", s.handleLedger)

	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeYAML(w, s.cfg.Redacted())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.state(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read state for status request")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeYAML(w, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	if err := s.ready.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "ledger disabled"})
		return
	}

	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	entries, err := s.history.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read ledger")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read ledger"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeYAML(w http.ResponseWriter, v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Status request")
	})
}
