// Package handlers provides HTTP handlers for the fund's operating tier.
package handlers

import (
	"context"
	"net/http"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/rs/zerolog"
)

// Service is the slice of the fund core the active tier endpoints drive
type Service interface {
	ActiveTier() core.ActiveTierStatus
	OverrideActiveTier(ctx context.Context, caps domain.Capabilities, tier domain.Tier, justification string) error
	SetMinAssets(ctx context.Context, caps domain.Capabilities, n int) error
}

// Handler handles active tier HTTP requests
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a new active tier handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "activetier").Logger(),
	}
}

// OverrideRequest is the body of PUT /active-tier
type OverrideRequest struct {
	Tier          domain.Tier `json:"tier"`
	Justification string      `json:"justification"`
}

// MinAssetsRequest is the body of PUT /active-tier/min-assets
type MinAssetsRequest struct {
	MinAssets int `json:"min_assets"`
}

// HandleGetActiveTier handles GET /active-tier
func (h *Handler) HandleGetActiveTier(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.ActiveTier())
}

// HandleOverride handles PUT /active-tier
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.OverrideActiveTier(r.Context(), apiutil.Capabilities(r), req.Tier, req.Justification); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.ActiveTier())
}

// HandleSetMinAssets handles PUT /active-tier/min-assets
func (h *Handler) HandleSetMinAssets(w http.ResponseWriter, r *http.Request) {
	var req MinAssetsRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.SetMinAssets(r.Context(), apiutil.Capabilities(r), req.MinAssets); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.ActiveTier())
}
