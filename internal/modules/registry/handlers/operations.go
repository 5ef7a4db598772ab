package handlers

import (
	"net/http"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/server/apiutil"
)

// OperatingStateRequest is the body of PUT /operations
type OperatingStateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// ReasonRequest is the body of POST /operations/pause and /operations/resume
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// LimitsRequest is the body of PUT /limits
type LimitsRequest struct {
	MaxAssets int `json:"max_assets"`
}

// HandleGetOperations handles GET /operations
func (h *Handler) HandleGetOperations(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.Operations())
}

// HandleSetOperatingState handles PUT /operations
func (h *Handler) HandleSetOperatingState(w http.ResponseWriter, r *http.Request) {
	var req OperatingStateRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	state, err := domain.ParseOperatingState(req.State)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.SetOperatingState(r.Context(), apiutil.Capabilities(r), state, req.Reason); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.Operations())
}

// HandleEmergencyPause handles POST /operations/pause
func (h *Handler) HandleEmergencyPause(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.EmergencyPause(r.Context(), apiutil.Capabilities(r), req.Reason); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.Operations())
}

// HandleResumeOperations handles POST /operations/resume
func (h *Handler) HandleResumeOperations(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.ResumeOperations(r.Context(), apiutil.Capabilities(r), req.Reason); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, h.service.Operations())
}

// HandleGetLimits handles GET /limits
func (h *Handler) HandleGetLimits(w http.ResponseWriter, r *http.Request) {
	h.writeLimits(w)
}

// HandleSetLimits handles PUT /limits
func (h *Handler) HandleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req LimitsRequest
	if err := apiutil.Decode(r, &req); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.SetMaxAssets(r.Context(), apiutil.Capabilities(r), req.MaxAssets); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	h.writeLimits(w)
}

func (h *Handler) writeLimits(w http.ResponseWriter) {
	registered := 0
	for _, a := range h.service.Assets() {
		if !a.Retired {
			registered++
		}
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"max_assets": h.service.MaxAssets(),
		"registered": registered,
	})
}
