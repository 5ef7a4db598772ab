package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all asset registry routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/assets", func(r chi.Router) {
		r.Get("/", h.HandleListAssets)
		r.Post("/", h.HandleRegisterAsset)
		r.Get("/{id}", h.HandleGetAsset)
		r.Delete("/{id}", h.HandleRemoveAsset)
		r.Put("/{id}/weight", h.HandleSetWeight)
		r.Put("/{id}/holdings", h.HandleSetHoldings)
	})
	r.Post("/reserve", h.HandleAdjustReserve)
	r.Route("/operations", func(r chi.Router) {
		r.Get("/", h.HandleGetOperations)
		r.Put("/", h.HandleSetOperatingState)
		r.Post("/pause", h.HandleEmergencyPause)
		r.Post("/resume", h.HandleResumeOperations)
	})
	r.Get("/limits", h.HandleGetLimits)
	r.Put("/limits", h.HandleSetLimits)
}
