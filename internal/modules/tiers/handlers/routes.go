package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all tier routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tiers", func(r chi.Router) {
		r.Get("/thresholds", h.HandleGetThresholds)
		r.Put("/thresholds", h.HandleSetThresholds)
		r.Post("/classify", h.HandleClassify)
		r.Get("/distribution", h.HandleGetDistribution)
		r.Post("/distribution/refresh", h.HandleRefreshDistribution)
		r.Post("/metrics/sample", h.HandleSampleMetrics)
	})
}
