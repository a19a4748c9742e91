// Package server exposes the retrieval pipeline over HTTP: a Server-Sent
// Events research endpoint plus health and status probes.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"storymill/internal/config"
	"storymill/internal/extractor"
	"storymill/internal/logger"
)

// Server represents the HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.Config
	cache      extractor.Cache
	stages     StageRunner
	log        *slog.Logger
}

// New creates a new HTTP server instance. A nil stages runner falls back to
// the no-op runner that marks downstream stages skipped.
func New(cfg *config.Config, cache extractor.Cache, stages StageRunner) *Server {
	if stages == nil {
		stages = NopStageRunner{}
	}
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		cache:  cache,
		stages: stages,
		log:    logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the research endpoint holds an SSE stream open
		// for the whole run.
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			headerWebSearchKey, headerWebSearchCx, headerNewsAPIKey, headerEventRegistryKey,
		},
		MaxAge: 300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/research", s.handleResearch)
	s.router.Post("/api/research", s.handleResearch)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info("starting http server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
