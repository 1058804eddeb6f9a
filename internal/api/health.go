package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz reports liveness. With ?deep=true it also checks the job
// store and the event publisher and answers 503 when either is unhealthy.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") != "true" {
		s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = "error: " + err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	_, err := s.store.Stats(ctx)
	check("store", err)
	check("events", s.publisher.Ping(ctx))

	status := http.StatusOK
	if resp.Status != "ok" {
		s.logger.Warn("deep health check failed", "checks", resp.Checks)
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
