// Package api exposes the report lifecycle over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, limits domain.RateLimitConfig, d Deps) *Server {
	handler := NewHandler(d, cfg.MaxUploadBytes)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Probes and metrics skip the limiter and identity headers.
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limits))
		r.Use(ActorMiddleware)

		r.Get("/events", handler.ListEvents)
		r.Get("/events/{id}", handler.GetEvent)
		r.Get("/events/{id}/funds", handler.ListEventFunds)
		r.Get("/funds/{id}", handler.GetFund)
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)

			r.Post("/events", handler.CreateEvent)
			r.Post("/events/{id}/verify", handler.VerifyEvent)
			r.Post("/funds", handler.CreateFund)
			r.Get("/audit-logs", handler.ListAuditLogs)
			r.Post("/rules", handler.CreateRule)
			r.Post("/rules/reload", handler.ReloadRules)
		})
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
