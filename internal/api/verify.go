package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seantiz/cairoprove/internal/pipeline"
)

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// handleVerify runs the verifier synchronously on the posted proof. The body
// is either the proof document itself or a JSON string holding it.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	proof, err := unwrapProof(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dir, err := s.workdirs.Acquire()
	if err != nil {
		s.logger.Error("allocate workdir for verify", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to allocate working directory")
		return
	}
	defer func() {
		if err := dir.Release(); err != nil {
			s.logger.Warn("release verify workdir", "error", err)
		}
	}()

	valid, err := s.verifier.Verify(r.Context(), dir, proof)
	if errors.Is(err, pipeline.ErrSerialization) {
		s.writeError(w, http.StatusBadRequest, "proof is not a JSON document")
		return
	}
	if err != nil {
		s.logger.Error("verify proof", "error", err)
		s.writeError(w, http.StatusInternalServerError, "verification could not run")
		return
	}

	s.writeJSON(w, http.StatusOK, verifyResponse{Valid: valid})
}

// unwrapProof returns the proof document, decoding one level of JSON string
// encoding when present.
func unwrapProof(body json.RawMessage) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil, errors.New("proof is required")
	}
	if body[0] != '"' {
		return body, nil
	}
	var inner string
	if err := json.Unmarshal(body, &inner); err != nil {
		return nil, errors.New("invalid proof string")
	}
	return json.RawMessage(inner), nil
}
