package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/ladder/internal/builder"
	"github.com/opensource-finance/ladder/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *builder.Service, store domain.ProgramStore, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(svc, store, cache, bus, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no merchant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Template catalog is shared by every merchant
	router.Get("/templates", handler.ListTemplates)
	router.Post("/templates/{id}/apply", handler.ApplyTemplate)

	router.Route("/programs", func(r chi.Router) {
		// Stateless validation, no merchant scope
		r.Post("/validate", handler.ValidateProgram)
		r.Post("/minimum", handler.Minimum)

		// Stored programs (merchant required)
		r.Group(func(r chi.Router) {
			r.Use(MerchantMiddleware)

			r.Get("/", handler.ListPrograms)
			r.Post("/", handler.SaveProgram)
			r.Get("/{id}", handler.GetProgram)
			r.Post("/{id}/rewards", handler.AppendRewards)
			r.Post("/{id}/delete-request", handler.RequestDelete)
			r.Delete("/{id}", handler.DeleteProgram)
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
