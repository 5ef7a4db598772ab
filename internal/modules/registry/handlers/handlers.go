// Package handlers provides HTTP handlers for the asset registry.
package handlers

import (
	"context"
	"net/http"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service is the slice of the fund core the asset endpoints drive
type Service interface {
	Asset(id domain.AssetID) (*domain.AssetRecord, error)
	Assets() []*domain.AssetRecord
	AssetsByTier(tier domain.Tier) []*domain.AssetRecord
	RegisterAsset(ctx context.Context, caps domain.Capabilities, underlying, provider string, weightBP int) (*domain.AssetRecord, error)
	UpdateAsset(ctx context.Context, caps domain.Capabilities, id domain.AssetID, weightBP int) error
	SetHoldings(ctx context.Context, caps domain.Capabilities, id domain.AssetID, quantity, staked decimal.Decimal) error
	RemoveAsset(ctx context.Context, caps domain.Capabilities, id domain.AssetID) error
	AdjustReserve(ctx context.Context, caps domain.Capabilities, delta decimal.Decimal) (decimal.Decimal, error)

	Operations() core.Operations
	SetOperatingState(ctx context.Context, caps domain.Capabilities, state domain.OperatingState, reason string) error
	EmergencyPause(ctx context.Context, caps domain.Capabilities, reason string) error
	ResumeOperations(ctx context.Context, caps domain.Capabilities, reason string) error
	MaxAssets() int
	SetMaxAssets(ctx context.Context, caps domain.Capabilities, n int) error
}

// Handler handles asset registry HTTP requests
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a new asset registry handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "registry").Logger(),
	}
}

// RegisterAssetRequest is the body of POST /assets
type RegisterAssetRequest struct {
	Underlying     string `json:"underlying"`
	Provider       string `json:"provider"`
	TargetWeightBP int    `json:"target_weight_bp"`
}

// WeightRequest is the body of PUT /assets/{id}/weight
type WeightRequest struct {
	TargetWeightBP int `json:"target_weight_bp"`
}

// HoldingsRequest is the body of PUT /assets/{id}/holdings
type HoldingsRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Staked   decimal.Decimal `json:"staked"`
}

// ReserveRequest is the body of POST /reserve
type ReserveRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

// HandleListAssets handles GET /assets, optionally filtered by ?tier=
func (h *Handler) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	var assets []*domain.AssetRecord
	if raw := r.URL.Query().Get("tier"); raw != "" {
		tier, err := domain.ParseTier(raw)
		if err != nil {
			apiutil.WriteError(w, h.log, err)
			return
		}
		assets = h.service.AssetsByTier(tier)
	} else {
		assets = h.service.Assets()
	}

	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"assets": assets,
		"count":  len(assets),
	})
}

// HandleGetAsset handles GET /assets/{id}
func (h *Handler) HandleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	asset, err := h.service.Asset(id)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, asset)
}

// HandleRegisterAsset handles POST /assets
func (h *Handler) HandleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}

	asset, err := h.service.RegisterAsset(r.Context(), apiutil.Capabilities(r), req.Underlying, req.Provider, req.TargetWeightBP)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusCreated, asset)
}

// HandleSetWeight handles PUT /assets/{id}/weight
func (h *Handler) HandleSetWeight(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	var req WeightRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.UpdateAsset(r.Context(), apiutil.Capabilities(r), id, req.TargetWeightBP); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	h.writeAsset(w, id)
}

// HandleSetHoldings handles PUT /assets/{id}/holdings
func (h *Handler) HandleSetHoldings(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	var req HoldingsRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.SetHoldings(r.Context(), apiutil.Capabilities(r), id, req.Quantity, req.Staked); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	h.writeAsset(w, id)
}

// HandleRemoveAsset handles DELETE /assets/{id}
func (h *Handler) HandleRemoveAsset(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.RemoveAsset(r.Context(), apiutil.Capabilities(r), id); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	h.writeAsset(w, id)
}

// HandleAdjustReserve handles POST /reserve
func (h *Handler) HandleAdjustReserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	reserve, err := h.service.AdjustReserve(r.Context(), apiutil.Capabilities(r), req.Delta)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"reserve": reserve})
}

func (h *Handler) writeAsset(w http.ResponseWriter, id domain.AssetID) {
	asset, err := h.service.Asset(id)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, asset)
}
