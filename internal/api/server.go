package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, p *pipeline.Pipeline, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, p, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(allowCORS)
	router.Use(recoverer)
	router.Use(traced)
	router.Use(requestLogger(slog.Default()))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(requireTenant)

		// Transaction decisioning
		r.Post("/decide", handler.Decide)
		r.Post("/transactions", handler.Ingest)
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Decision retrieval
		r.Get("/decisions/{id}", handler.GetDecision)
		r.Get("/decisions/by-transaction/{txId}", handler.GetDecisionByTx)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/validate", handler.ValidateRule)
		r.Post("/rules/reload", handler.ReloadRules)

		// AML patterns
		r.Get("/patterns", handler.ListPatterns)

		// Blocklist management
		r.Post("/blocklist", handler.CreateBlocklistEntry)
		r.Delete("/blocklist/{entityType}/{value}", handler.DeleteBlocklistEntry)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
