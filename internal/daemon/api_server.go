package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clipforge/internal/callback"
	"clipforge/internal/config"
	"clipforge/internal/events"
	"clipforge/internal/logging"
	"clipforge/internal/queue"
	"clipforge/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// SubmitResponse is the answer to an event submission.
type SubmitResponse struct {
	Accepted bool                 `json:"accepted"`
	JobID    string               `json:"job_id,omitempty"`
	Key      string               `json:"key,omitempty"`
	Result   *queue.ResultSummary `json:"result,omitempty"`
}

// StatusResponse mirrors Daemon.Status for the wire.
type StatusResponse struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	PipelineDB   string `json:"pipeline_db"`
	LockFilePath string `json:"lock_file"`
	JobsTotal    int    `json:"jobs_total"`
	JobsInFlight int    `json:"jobs_in_flight"`
	JobsDone     int    `json:"jobs_published"`
	JobsFailed   int    `json:"jobs_failed"`
}

// JobView is the wire representation of one job.
type JobView struct {
	ID             string `json:"id"`
	SubjectID      string `json:"subject_id"`
	Status         string `json:"status"`
	Attempt        int    `json:"attempt"`
	Provider       string `json:"provider,omitempty"`
	OutputRef      string `json:"output_ref,omitempty"`
	PublishRef     string `json:"publish_ref,omitempty"`
	PublishRetries int    `json:"publish_retries"`
	NextPublishAt  string `json:"next_publish_at,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// QueueListResponse wraps the job listing.
type QueueListResponse struct {
	Jobs []JobView `json:"jobs"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Server.Bind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Server.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", requireToken(token, srv.handleEvents))
	mux.HandleFunc("/api/callbacks/provider", requireToken(token, srv.handleProviderCallback))
	mux.HandleFunc("/api/status", requireToken(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", requireToken(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", requireToken(token, srv.handleQueueItem))
	mux.Handle("/metrics", promhttp.Handler())

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var event events.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	receipt, err := s.daemon.pipeline.Submit(r.Context(), event)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := SubmitResponse{
		Accepted: receipt.Accepted,
		JobID:    receipt.JobID,
		Key:      receipt.Key,
		Result:   receipt.Result,
	}
	switch {
	case receipt.Accepted:
		s.writeJSON(w, http.StatusCreated, response)
	case receipt.Result != nil:
		// Duplicate of a finished job: replay the stored outcome.
		s.writeJSON(w, http.StatusOK, response)
	default:
		// Duplicate of a job still in flight.
		s.writeJSON(w, http.StatusAccepted, response)
	}
}

func (s *apiServer) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var outcome callback.Outcome
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&outcome); err != nil {
		// Callbacks are always acknowledged; an undecodable body is logged
		// and dropped like an unmatched reference.
		s.logger.Warn("undecodable provider callback", logging.Error(err))
		s.writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
		return
	}

	s.daemon.router.Handle(r.Context(), outcome)
	s.writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		PipelineDB:   status.PipelineDB,
		LockFilePath: status.LockFilePath,
		JobsTotal:    status.Jobs.Total,
		JobsInFlight: status.Jobs.InFlight,
		JobsDone:     status.Jobs.Published,
		JobsFailed:   status.Jobs.Failed,
	})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		cleared, err := s.daemon.store.ClearTerminal(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
		return
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, parsed)
	}

	jobs, err := s.daemon.store.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}
	s.writeJSON(w, http.StatusOK, QueueListResponse{Jobs: views})
}

func (s *apiServer) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if r.Method == http.MethodPost && strings.HasSuffix(rest, "/retry") {
		id := strings.TrimSuffix(rest, "/retry")
		retried, err := s.daemon.store.RetryFailed(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if retried == 0 {
			s.writeError(w, http.StatusConflict, "job is not in a failed state")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int64{"retried": retried})
		return
	}

	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if strings.Contains(rest, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, err := s.daemon.store.GetByID(r.Context(), rest)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, jobView(job))
}

func jobView(job *queue.Job) JobView {
	view := JobView{
		ID:             job.ID,
		SubjectID:      job.SubjectID,
		Status:         string(job.Status),
		Attempt:        job.Attempt,
		Provider:       job.Provider,
		OutputRef:      job.OutputRef,
		PublishRef:     job.PublishRef,
		PublishRetries: job.PublishRetries,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if job.NextPublishAt != nil {
		view.NextPublishAt = job.NextPublishAt.Format(time.RFC3339)
	}
	return view
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
