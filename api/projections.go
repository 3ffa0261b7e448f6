package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleProjectionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.projector.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStartRebuild(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.rebuilder.Start(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleRebuildJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.rebuilder.Job(jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}
