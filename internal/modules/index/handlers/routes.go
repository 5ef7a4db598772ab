package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all index routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/index", func(r chi.Router) {
		r.Get("/", h.HandleGetIndex)
		r.Get("/live", h.HandleLiveValue)
		r.Post("/initialize", h.HandleInitialize)
		r.Post("/refresh", h.HandleRefresh)
		r.Post("/reset", h.HandleEmergencyReset)
		r.Put("/tracking", h.HandleSetTracking)
	})
}
