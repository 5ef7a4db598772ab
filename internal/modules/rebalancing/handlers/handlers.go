// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/tierindex/internal/core"
	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/rs/zerolog"
)

// Service is the slice of the fund core the rebalancing endpoints drive
type Service interface {
	PreviewRebalance(ctx context.Context) (*rebalancing.Plan, error)
	ExecuteRebalance(ctx context.Context, caps domain.Capabilities, maxSteps int, force bool) (rebalancing.ExecuteResult, error)
	AbandonRebalance(ctx context.Context, caps domain.Capabilities) (bool, error)
	RebalanceStatus() core.RebalanceStatus
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	service  Service
	maxSteps int
	log      zerolog.Logger
}

// NewHandler creates a new rebalancing handler. maxSteps bounds one execute
// request when the caller does not name a step count.
func NewHandler(service Service, maxSteps int, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		maxSteps: maxSteps,
		log:      log.With().Str("handler", "rebalancing").Logger(),
	}
}

// HandleGetStatus handles GET /rebalancing/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.RebalanceStatus())
}

// HandlePreview handles GET /rebalancing/preview. Nothing is executed or stored.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.PreviewRebalance(r.Context())
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, plan)
}

// HandleExecute handles POST /rebalancing/execute?steps=N&force=true
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	steps, err := apiutil.IntQuery(r, "steps", h.maxSteps)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, _ = strconv.ParseBool(raw)
	}

	res, err := h.service.ExecuteRebalance(r.Context(), apiutil.Capabilities(r), steps, force)
	var stepErr *rebalancing.StepFailedError
	if errors.As(err, &stepErr) {
		// steps before the failure are committed; report both
		h.log.Warn().Err(err).Str("plan_id", stepErr.PlanID).Int("step", stepErr.Step).Msg("Rebalance step failed")
		apiutil.WriteJSON(w, h.log, http.StatusBadGateway, map[string]interface{}{
			"result": res,
			"error":  err.Error(),
			"status": h.service.RebalanceStatus(),
		})
		return
	}
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, res)
}

// HandleAbandon handles POST /rebalancing/abandon
func (h *Handler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	dropped, err := h.service.AbandonRebalance(r.Context(), apiutil.Capabilities(r))
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{"abandoned": dropped})
}
