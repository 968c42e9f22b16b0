package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/dyluth/nlbayes/internal/dispatcher"
	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// SubmitRequest is the body of POST /api/v1/jobs. Config may be omitted;
// missing options take their defaults and unknown ones are rejected.
type SubmitRequest struct {
	Network  jobstore.Network  `json:"network"`
	Evidence jobstore.Evidence `json:"evidence"`
	Config   json.RawMessage   `json:"config,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "malformed submission")
		return
	}

	cfg, err := jobstore.DecodeInferenceConfig(req.Config)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
		return
	}

	sub, err := s.dispatcher.Submit(r.Context(), req.Network, req.Evidence, cfg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, sub)
	case errors.Is(err, dispatcher.ErrInvalidSubmission):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, err.Error())
	case errors.Is(err, jobstore.ErrQueueUnavailable):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusServiceUnavailable, err, "task queue unavailable")
	default:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to submit job")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	status, err := s.dispatcher.Status(r.Context(), taskID)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to read task status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, err := s.dispatcher.Job(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, job)
	case jobstore.IsNotFound(err):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, fmt.Sprintf("job %s not found", jobID))
	default:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to read job")
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !jobstore.IsValidHash(hash) {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, fmt.Errorf("bad hash %q", hash), "invalid result hash")
		return
	}

	posterior, err := s.dispatcher.FetchResult(r.Context(), hash)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, posterior)
	case jobstore.IsNotFound(err):
		rest.SendErrorJSON(w, r, log.Default(), http.StatusNotFound, err, fmt.Sprintf("result %s not found", hash))
	default:
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, "failed to read result")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}
