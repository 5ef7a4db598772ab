// Package apiutil holds the request and response helpers shared by the HTTP
// handlers: caller capabilities, JSON envelopes and error-to-status mapping.
package apiutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type capsKey struct{}

// WithCapabilities attaches the caller's resolved roles to ctx
func WithCapabilities(ctx context.Context, caps domain.RoleSet) context.Context {
	return context.WithValue(ctx, capsKey{}, caps)
}

// Capabilities returns the caller's roles. Anonymous callers get an empty set.
func Capabilities(r *http.Request) domain.RoleSet {
	caps, _ := r.Context().Value(capsKey{}).(domain.RoleSet)
	if caps == nil {
		return domain.RoleSet{}
	}
	return caps
}

// WriteJSON writes data wrapped in the standard envelope
func WriteJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteWarning writes data with a non-fatal warning in the metadata
func WriteWarning(w http.ResponseWriter, log zerolog.Logger, data interface{}, warning error) {
	if warning == nil {
		WriteJSON(w, log, http.StatusOK, data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"warning":   warning.Error(),
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// StatusFor maps a core error onto an HTTP status code
func StatusFor(err error) int {
	var stepErr *rebalancing.StepFailedError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyInitialized), errors.Is(err, domain.ErrInsufficientHistory):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOperationsHalted):
		return http.StatusLocked
	case errors.Is(err, domain.ErrOverflow), errors.Is(err, domain.ErrUnderflow):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stepErr):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrExternalDataUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusFor picks
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Decode reads a JSON request body into v. Malformed bodies are invalid parameters.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidParameter, err)
	}
	return nil
}

// AssetID parses the {id} URL parameter
func AssetID(r *http.Request) (domain.AssetID, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid asset id %q", domain.ErrInvalidParameter, raw)
	}
	return domain.AssetID(id), nil
}

// IntQuery reads an optional positive integer query parameter
func IntQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrInvalidParameter, name)
	}
	return n, nil
}
