package api

import (
	"net/http"

	"github.com/seantiz/cairoprove/internal/model"
)

type layoutsResponse struct {
	Layouts []string `json:"layouts"`
}

func (s *Server) handleListRunners(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runners.List())
}

func (s *Server) handleListLayouts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, layoutsResponse{Layouts: model.Layouts})
}
