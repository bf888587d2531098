package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adrianmcphee/canarystore"
)

type canaryConfigIDResponse struct {
	CanaryConfigID string `json:"canaryConfigId"`
}

func configAccount(r *http.Request) string {
	return r.URL.Query().Get("configurationAccountName")
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.configs.List(r.Context(), configAccount(r), r.URL.Query()["application"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []canarystore.ObjectSummary{}
	}
	s.respondJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleLoadConfig(w http.ResponseWriter, r *http.Request) {
	config, err := s.configs.Load(r.Context(), configAccount(r), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, config)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var config canarystore.CanaryConfig
	if err := decodeBody(w, r, &config); err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := s.configs.Create(r.Context(), configAccount(r), &config)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, canaryConfigIDResponse{CanaryConfigID: id})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var config canarystore.CanaryConfig
	if err := decodeBody(w, r, &config); err != nil {
		s.respondError(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.configs.Update(r.Context(), configAccount(r), id, &config); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, canaryConfigIDResponse{CanaryConfigID: id})
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.configs.Delete(r.Context(), configAccount(r), mux.Vars(r)["id"]); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
