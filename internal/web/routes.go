package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/album-suggester/internal/web/handlers"
	"github.com/kozaktomas/album-suggester/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	suggestionsHandler := handlers.NewSuggestionsHandler(s.deps.Service, s.deps.Store, s.deps.Enricher, s.deps.Albums)
	logsHandler := handlers.NewLogsHandler(s.deps.Store)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Token))

		// Suggestions
		r.Get("/suggestions", suggestionsHandler.List)
		r.Get("/suggestions/{id}", suggestionsHandler.Get)
		r.Post("/suggestions/{id}/enrich", suggestionsHandler.Enrich)
		r.Post("/suggestions/{id}/approve", suggestionsHandler.Approve)
		r.Post("/suggestions/{id}/additions", suggestionsHandler.AddAssets)
		r.Post("/suggestions/{id}/reject", suggestionsHandler.Reject)
		r.Put("/suggestions/{id}/title", suggestionsHandler.UpdateTitle)
		r.Put("/suggestions/{id}/cover", suggestionsHandler.UpdateCover)

		// Scan log
		r.Get("/logs", logsHandler.Since)
	})
}
