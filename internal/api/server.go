// Package api is the HTTP surface: campaign management under /api and
// the public tracking/webhook endpoints at the root.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/idoneo/emailer/internal/emailer"
	"github.com/idoneo/emailer/internal/ingest"
)

// Server serves the engine's HTTP API.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer wires the routers.
func NewServer(e *emailer.Emailer, ing *ingest.Handler) *Server {
	h := &handlers{emailer: e}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Mount("/", ing.Routes())

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCampaign)
				r.Delete("/", h.DeleteCampaign)
				r.Post("/start", h.StartCampaign)
				r.Post("/stop", h.StopCampaign)
				r.Post("/test", h.SendTest)
				r.Get("/stats", h.CampaignStats)
				r.Get("/deliveries", h.ListDeliveries)
			})
		})
	})

	return &Server{handler: r}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
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

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
