package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/cairoprove/internal/model"
	"github.com/seantiz/cairoprove/internal/store"
	"github.com/seantiz/cairoprove/internal/workdir"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// loadJob resolves the {id} URL parameter and writes the error response
// itself when the job cannot be returned.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return nil, false
	}

	j, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	return j, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleGetProof streams proof.json of a completed job. Retained directories
// are eventually swept, after which the proof is gone for good.
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	j, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if j.Status != model.StatusCompleted {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", j.Status))
		return
	}
	if j.Workdir == "" || !s.workdirs.Contains(j.Workdir) {
		s.writeError(w, http.StatusGone, "proof is no longer available")
		return
	}

	f, err := os.Open(filepath.Join(j.Workdir, workdir.ArtifactProof))
	if errors.Is(err, os.ErrNotExist) {
		s.writeError(w, http.StatusGone, "proof is no longer available")
		return
	}
	if err != nil {
		s.logger.Error("open proof", "job_id", j.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read proof")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=proof-%d.json", j.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("stream proof", "job_id", j.ID, "error", err)
	}
}
