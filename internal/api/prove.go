package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seantiz/cairoprove/internal/engine"
	"github.com/seantiz/cairoprove/internal/model"
)

// proveResponse is the JSON body returned when a job is accepted.
type proveResponse struct {
	JobID  uint64       `json:"job_id"`
	Status model.Status `json:"status"`
}

// handleProve accepts a proving request of the given kind. The job is queued
// and the response returns before any stage has run.
func (s *Server) handleProve(kind model.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input model.ProverInput
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(input.Program) == 0 || string(input.Program) == "null" {
			s.writeError(w, http.StatusBadRequest, "program is required")
			return
		}
		if input.Layout == "" {
			s.writeError(w, http.StatusBadRequest, "layout is required")
			return
		}
		input.Kind = kind

		dir, err := s.workdirs.Acquire()
		if err != nil {
			s.logger.Error("allocate workdir", "kind", kind, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to allocate working directory")
			return
		}

		id, err := s.engine.Submit(r.Context(), input, dir)
		if err != nil {
			if relErr := dir.Release(); relErr != nil {
				s.logger.Warn("release workdir after rejected submit", "error", relErr)
			}
			if errors.Is(err, engine.ErrClosed) {
				s.writeError(w, http.StatusServiceUnavailable, "service is shutting down")
				return
			}
			s.logger.Error("submit job", "kind", kind, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to submit job")
			return
		}

		s.writeJSON(w, http.StatusAccepted, proveResponse{JobID: id, Status: model.StatusQueued})
	}
}
