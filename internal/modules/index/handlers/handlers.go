// Package handlers provides HTTP handlers for the performance index.
package handlers

import (
	"context"
	"net/http"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service is the slice of the fund core the index endpoints drive
type Service interface {
	IndexReading() index.Reading
	ComputeIndexValue(ctx context.Context) (index.Valuation, error)
	InitializeIndex(ctx context.Context, caps domain.Capabilities, baselineValue decimal.Decimal) error
	RefreshIndex(ctx context.Context, caps domain.Capabilities) (index.Reading, error)
	EmergencyResetIndex(ctx context.Context, caps domain.Capabilities, justification string) error
	SetIndexTracking(ctx context.Context, caps domain.Capabilities, enabled bool) error
}

// Handler handles index HTTP requests
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a new index handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "index").Logger(),
	}
}

// InitializeRequest is the body of POST /index/initialize. A zero baseline
// selects the default of 100.
type InitializeRequest struct {
	BaselineValue decimal.Decimal `json:"baseline_value"`
}

// ResetRequest is the body of POST /index/reset
type ResetRequest struct {
	Justification string `json:"justification"`
}

// TrackingRequest is the body of PUT /index/tracking
type TrackingRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleGetIndex handles GET /index, the cached reading
func (h *Handler) HandleGetIndex(w http.ResponseWriter, r *http.Request) {
	reading := h.service.IndexReading()
	apiutil.WriteWarning(w, h.log, reading, reading.Warning())
}

// HandleLiveValue handles GET /index/live, a valuation at live prices that is not cached
func (h *Handler) HandleLiveValue(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.ComputeIndexValue(r.Context())
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteWarning(w, h.log, v, v.Warning())
}

// HandleInitialize handles POST /index/initialize
func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.InitializeIndex(r.Context(), apiutil.Capabilities(r), req.BaselineValue); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusCreated, h.service.IndexReading())
}

// HandleRefresh handles POST /index/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	reading, err := h.service.RefreshIndex(r.Context(), apiutil.Capabilities(r))
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteWarning(w, h.log, reading, reading.Warning())
}

// HandleEmergencyReset handles POST /index/reset
func (h *Handler) HandleEmergencyReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.EmergencyResetIndex(r.Context(), apiutil.Capabilities(r), req.Justification); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.IndexReading())
}

// HandleSetTracking handles PUT /index/tracking
func (h *Handler) HandleSetTracking(w http.ResponseWriter, r *http.Request) {
	var req TrackingRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.SetIndexTracking(r.Context(), apiutil.Capabilities(r), req.Enabled); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.IndexReading())
}
