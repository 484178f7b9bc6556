// ABOUTME: HTTP server wiring the websocket endpoint, health checks, and stats
// ABOUTME: Owns the listener lifecycle and graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Dacosmicgiant/LawBuddy/internal/auth"
	"github.com/Dacosmicgiant/LawBuddy/internal/chat"
	"github.com/Dacosmicgiant/LawBuddy/internal/engine"
	"github.com/Dacosmicgiant/LawBuddy/internal/generation"
	"github.com/Dacosmicgiant/LawBuddy/internal/hub"
)

const defaultShutdownTimeout = 10 * time.Second

// Config holds the server's transport settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// HistoryWindow bounds how many prior turns are sent as generation context.
	HistoryWindow int
}

// Server is the HTTP front of the chat service. All client traffic flows
// through the websocket endpoint; the remaining routes are operational.
type Server struct {
	cfg      Config
	chat     *chat.Service
	orch     *generation.Orchestrator
	hub      *hub.Hub
	engine   engine.Engine
	verifier auth.TokenVerifier
	logger   *slog.Logger
	httpSrv  *http.Server
}

// New creates a server. Zero config fields take defaults.
func New(cfg Config, chatSvc *chat.Service, orch *generation.Orchestrator, h *hub.Hub, eng engine.Engine, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = engine.DefaultHistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		chat:     chatSvc,
		orch:     orch,
		hub:      h,
		engine:   eng,
		verifier: verifier,
		logger:   logger.With("component", "server"),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed for handler tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/healthz/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))
		r.Get("/ws/chat", s.handleWS)
		r.Get("/ws/stats", s.handleStats)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. Running
// generation tasks are cancelled as part of shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Messages orphaned by an unclean stop are failed before accepting
	// traffic so clients never see a stream that nothing is driving.
	reconciled, err := s.chat.ReconcileOrphans(ctx)
	if err != nil {
		return fmt.Errorf("reconciling orphaned streams: %w", err)
	}
	if reconciled > 0 {
		s.logger.Warn("failed orphaned streaming messages", "count", reconciled)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")

		// Fresh context: the run context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
		if err := s.orch.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness: the store must answer and the engine must
// be configured. A server without an engine is alive but not ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Store().Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	if !s.engine.IsAvailable() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("engine not configured"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := struct {
		hub.Stats
		ActiveStreams int `json:"active_streams"`
	}{s.hub.Snapshot(), s.orch.ActiveStreams()}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode stats", "error", err)
	}
}
