// Package handlers provides HTTP handlers for tier thresholds, classification
// and the tier distribution.
package handlers

import (
	"context"
	"net/http"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/tiers"
	"github.com/aristath/tierindex/internal/server/apiutil"
	"github.com/rs/zerolog"
)

// Service is the slice of the fund core the tier endpoints drive
type Service interface {
	Thresholds() tiers.Thresholds
	SetThresholds(ctx context.Context, caps domain.Capabilities, th tiers.Thresholds) error
	Classify(m domain.Metrics) domain.Tier
	Distribution() map[domain.Tier]int
	RefreshDistribution(ctx context.Context, caps domain.Capabilities) error
	SampleMetrics(ctx context.Context, caps domain.Capabilities, maxBatch int) (history.SampleResult, error)
}

// Handler handles tier HTTP requests
type Handler struct {
	service   Service
	batchSize int
	log       zerolog.Logger
}

// NewHandler creates a new tier handler. batchSize bounds a metric sampling
// pass when the request does not name one.
func NewHandler(service Service, batchSize int, log zerolog.Logger) *Handler {
	return &Handler{
		service:   service,
		batchSize: batchSize,
		log:       log.With().Str("handler", "tiers").Logger(),
	}
}

// ThresholdResponse is one tier's floors
type ThresholdResponse struct {
	Tier domain.Tier `json:"tier"`
	tiers.Threshold
}

// HandleGetThresholds handles GET /tiers/thresholds
func (h *Handler) HandleGetThresholds(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, h.log, http.StatusOK, thresholdList(h.service.Thresholds()))
}

// HandleSetThresholds handles PUT /tiers/thresholds. The body lists the
// floors of tier1..tier4 in order.
func (h *Handler) HandleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var th tiers.Thresholds
	if err := apiutil.Decode(r, &th); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	if err := h.service.SetThresholds(r.Context(), apiutil.Capabilities(r), th); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, thresholdList(h.service.Thresholds()))
}

// HandleClassify handles POST /tiers/classify, a dry run against the current floors
func (h *Handler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	var m domain.Metrics
	if err := apiutil.Decode(r, &m); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"tier":    h.service.Classify(m),
		"metrics": m,
	})
}

// HandleGetDistribution handles GET /tiers/distribution
func (h *Handler) HandleGetDistribution(w http.ResponseWriter, r *http.Request) {
	apiutil.WriteJSON(w, h.log, http.StatusOK, distribution(h.service.Distribution()))
}

// HandleRefreshDistribution handles POST /tiers/distribution/refresh
func (h *Handler) HandleRefreshDistribution(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshDistribution(r.Context(), apiutil.Capabilities(r)); err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, distribution(h.service.Distribution()))
}

// HandleSampleMetrics handles POST /tiers/metrics/sample?batch=N
func (h *Handler) HandleSampleMetrics(w http.ResponseWriter, r *http.Request) {
	batch, err := apiutil.IntQuery(r, "batch", h.batchSize)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	res, err := h.service.SampleMetrics(r.Context(), apiutil.Capabilities(r), batch)
	if err != nil {
		apiutil.WriteError(w, h.log, err)
		return
	}
	apiutil.WriteJSON(w, h.log, http.StatusOK, res)
}

func thresholdList(th tiers.Thresholds) []ThresholdResponse {
	out := make([]ThresholdResponse, 0, len(th))
	for i, f := range th {
		out = append(out, ThresholdResponse{Tier: domain.Tier(i + 1), Threshold: f})
	}
	return out
}

// distribution keys the counts by tier name, every tier present
func distribution(counts map[domain.Tier]int) map[string]int {
	out := make(map[string]int, len(domain.AllTiers))
	for _, tier := range domain.AllTiers {
		out[tier.String()] = counts[tier]
	}
	return out
}
