// Package handlers provides HTTP handlers for pending tier changes and the
// grace period.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/rs/zerolog"
)

// Service is the slice of the fund core the grace endpoints drive
type Service interface {
	Pending(id domain.AssetID) (core.PendingStatus, bool)
	PendingChanges() []core.PendingStatus
	DueCount() int
	GracePeriod() core.GraceSettings
	ProposeTierChange(ctx context.Context, caps domain.Capabilities, id domain.AssetID, tier domain.Tier) (*grace.PendingChange, error)
	ReclassifyAsset(ctx context.Context, caps domain.Capabilities, id domain.AssetID) (domain.Tier, grace.Outcome, error)
	RefreshTiers(ctx context.Context, caps domain.Capabilities, maxBatch int) (grace.RefreshResult, error)
	ProcessDue(ctx context.Context, caps domain.Capabilities, maxBatch int) (int, error)
	EmergencyOverride(ctx context.Context, caps domain.Capabilities, id domain.AssetID, tier domain.Tier, justification string) error
	EmergencyOverrideToCalculated(ctx context.Context, caps domain.Capabilities, id domain.AssetID, justification string) (domain.Tier, error)
	ClearPending(ctx context.Context, caps domain.Capabilities, id domain.AssetID) (bool, error)
	SetGracePeriod(ctx context.Context, caps domain.Capabilities, d time.Duration) error
}

// Handler handles grace period HTTP requests
type Handler struct {
	service   Service
	batchSize int
	log       zerolog.Logger
}

// NewHandler creates a new grace handler. batchSize is used when a refresh
// or process request does not name one.
func NewHandler(service Service, batchSize int, log zerolog.Logger) *Handler {
	return &Handler{
		service:   service,
		batchSize: batchSize,
		log:       log.With().Str("handler", "grace").Logger(),
	}
}

// ProposeRequest is the body of POST /grace/assets/{id}/propose
type ProposeRequest struct {
	Tier domain.Tier `json:"tier"`
}

// OverrideRequest is the body of POST /grace/assets/{id}/override. Without
// a tier the asset is overridden to the tier its live metrics yield.
type OverrideRequest struct {
	Tier          *domain.Tier `json:"tier,omitempty"`
	Justification string       `json:"justification"`
}

// GracePeriodRequest is the body of PUT /grace/period
type GracePeriodRequest struct {
	Period string `json:"period"`
}

// GracePeriodResponse is the grace period with its accepted range
type GracePeriodResponse struct {
	Period string `json:"period"`
	Min    string `json:"min"`
	Max    string `json:"max"`
}

// HandleListPending handles GET /grace/pending
func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	pending := h.service.PendingChanges()
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
		"due":     h.service.DueCount(),
	})
}

// HandleGetPending handles GET /grace/assets/{id}
func (h *Handler) HandleGetPending(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	p, ok := h.service.Pending(id)
	if !ok {
		apiutil.WriteError(w, h.log, fmt.Errorf("%w: no pending change for asset %s", domain.ErrNotFound, id))
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, p)
}

// HandleClearPending handles DELETE /grace/assets/{id}
func (h *Handler) HandleClearPending(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	cleared, err := h.service.ClearPending(r.Context(), apiutil.Capabilities(r), id)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"cleared": cleared})
}

// HandlePropose handles POST /grace/assets/{id}/propose
func (h *Handler) HandlePropose(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	var req ProposeRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	p, err := h.service.ProposeTierChange(r.Context(), apiutil.Capabilities(r), id, req.Tier)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	// proposing the current tier schedules nothing
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"pending":   p,
		"scheduled": p != nil,
	})
}

// HandleReclassify handles POST /grace/assets/{id}/reclassify
func (h *Handler) HandleReclassify(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	tier, outcome, err := h.service.ReclassifyAsset(r.Context(), apiutil.Capabilities(r), id)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"tier":    tier,
		"outcome": outcomeName(outcome),
	})
}

// HandleOverride handles POST /grace/assets/{id}/override
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	id, err := apiutil.AssetID(r)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	var req OverrideRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}

	caps := apiutil.Capabilities(r)
	var tier domain.Tier
	if req.Tier != nil {
		tier = *req.Tier
		err = h.service.EmergencyOverride(r.Context(), caps, id, tier, req.Justification)
	} else {
		tier, err = h.service.EmergencyOverrideToCalculated(r.Context(), caps, id, req.Justification)
	}
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}

	h.log.Warn().
		Uint32("asset_id", uint32(id)).
		Str("tier", tier.String()).
		Str("justification", req.Justification).
		Msg("Emergency tier override applied")
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"tier": tier})
}

// HandleRefresh handles POST /grace/refresh?batch=N
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	batch, err := apiutil.IntQuery(r, "batch", h.batchSize)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	res, err := h.service.RefreshTiers(r.Context(), apiutil.Capabilities(r), batch)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, res)
}

// HandleProcessDue handles POST /grace/process?batch=N
func (h *Handler) HandleProcessDue(w http.ResponseWriter, r *http.Request) {
	batch, err := apiutil.IntQuery(r, "batch", h.batchSize)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	n, err := h.service.ProcessDue(r.Context(), apiutil.Capabilities(r), batch)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"processed": n,
		"remaining": h.service.DueCount(),
	})
}

// HandleGetGracePeriod handles GET /grace/period
func (h *Handler) HandleGetGracePeriod(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.gracePeriod())
}

// HandleSetGracePeriod handles PUT /grace/period
func (h *Handler) HandleSetGracePeriod(w http.ResponseWriter, r *http.Request) {
	var req GracePeriodRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	d, err := time.ParseDuration(req.Period)
	if err != nil {
		apiutil.WriteError(w, h.log, fmt.Errorf("%w: period %q: %v", domain.ErrInvalidParameter, req.Period, err))
		return
	}
	if err := h.service.SetGracePeriod(r.Context(), apiutil.Capabilities(r), d); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.gracePeriod())
}

func (h *Handler) gracePeriod() GracePeriodResponse {
	g := h.service.GracePeriod()
	return GracePeriodResponse{Period: g.Period.String(), Min: g.Min.String(), Max: g.Max.String()}
}

func outcomeName(o grace.Outcome) string {
	switch o {
	case grace.Proposed:
		return "proposed"
	case grace.Cancelled:
		return "cancelled"
	default:
		return "unchanged"
	}
}
