package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/tierindex/internal/server/apiutil"
)

// handleHealth reports liveness and whether the database answers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "tierindex",
	}

	if s.cfg.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.cfg.DB.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Msg("Database health check failed")
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
			response["error"] = err.Error()
		}
	}

	apiutil.WriteJSON(w, s.log, status, response)
}

// handleWhoAmI returns the roles the caller's token resolves to
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	roles := apiutil.Capabilities(r).Roles()
	apiutil.WriteJSON(w, s.log, http.StatusOK, map[string]interface{}{
		"roles":     roles,
		"anonymous": len(roles) == 0,
	})
}
