package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all grace period routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/grace", func(r chi.Router) {
		r.Get("/pending", h.HandleListPending)
		r.Post("/refresh", h.HandleRefresh)
		r.Post("/process", h.HandleProcessDue)
		r.Get("/period", h.HandleGetGracePeriod)
		r.Put("/period", h.HandleSetGracePeriod)

		r.Route("/assets/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetPending)
			r.Delete("/", h.HandleClearPending)
			r.Post("/propose", h.HandlePropose)
			r.Post("/reclassify", h.HandleReclassify)
			r.Post("/override", h.HandleOverride)
		})
	})
}
