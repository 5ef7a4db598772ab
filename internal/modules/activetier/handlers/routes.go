package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all active tier routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/active-tier", func(r chi.Router) {
		r.Get("/", h.HandleGetActiveTier)
		r.Put("/", h.HandleOverride)
		r.Put("/min-assets", h.HandleSetMinAssets)
	})
}
