// File: internal/api/server.go
// Description: HTTP surface over the orchestrator, session manager and
// health monitor. Routing is chi; responses are JSON.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/internal/config"
	"github.com/cicerone-dev/cicerone/internal/degradation"
	"github.com/cicerone-dev/cicerone/internal/orchestrator"
	"github.com/cicerone-dev/cicerone/internal/session"
)

// Server hosts the HTTP API.
type Server struct {
	cfg      config.APIConfig
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	health   *degradation.Manager
	toggles  *degradation.Toggles
	logger   *zap.Logger
	httpSrv  *http.Server
}

// NewServer wires the router and returns the server without starting it.
func NewServer(
	cfg config.APIConfig,
	orch *orchestrator.Orchestrator,
	sessions *session.Manager,
	health *degradation.Manager,
	toggles *degradation.Toggles,
	logger *zap.Logger,
) (*Server, error) {
	if orch == nil || sessions == nil || health == nil || toggles == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize API server with nil dependencies")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8710"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		orch:     orch,
		sessions: sessions,
		health:   health,
		toggles:  toggles,
		logger:   logger.Named("api"),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/pipeline", s.handlePipelineStatus)
			r.Get("/outcomes", s.handleOutcomes)
			r.Post("/pause", s.handlePause)
			r.Post("/resume", s.handleResume)
			r.Post("/cancel", s.handleCancel)
			r.Post("/feedback", s.handleFeedback)
		})
		r.Route("/health", func(r chi.Router) {
			r.Get("/", s.handleHealthReport)
			r.Get("/features/{feature}", s.handleFeatureCheck)
			r.Get("/fallbacks", s.handleFallbacks)
			r.Post("/components/{component}/degrade", s.handleManualDegrade)
			r.Post("/components/{component}/restore", s.handleRestore)
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP API")
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
