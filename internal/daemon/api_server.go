package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dubline/internal/api"
	"dubline/internal/config"
	"dubline/internal/jobs"
	"dubline/internal/ledger"
	"dubline/internal/logging"
	"dubline/internal/metrics"
	"dubline/internal/services"
	"dubline/internal/storage"
	"dubline/internal/workflow"
)

const (
	maxRequestBytes = 32 << 20
	defaultLogLimit = 200
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/jobs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/jobs/{id}/ledger", s.handleGetLedger)
	mux.HandleFunc("PUT /api/jobs/{id}/ledger", s.handleApplyLedger)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/cache", s.handleCacheStatus)
	mux.HandleFunc("DELETE /api/cache", s.handleCacheClear)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("POST /api/notifications/test", s.handleTestNotification)

	root := http.NewServeMux()
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/api/", authMiddleware(token, mux))
	return requestIDMiddleware(root)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
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

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.daemon.cfg.Paths.APIToken != ""),
	)
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		// Open event streams do not finish on their own.
		_ = s.server.Close()
	}
	s.listener = nil
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode request: %w", services.ErrValidation, err))
		return
	}
	job, err := s.daemon.Submit(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: api.FromJob(job, s.daemon.QueuePosition(job.ID))})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := jobs.ParseStatus(part)
			if !ok {
				s.writeError(w, r, fmt.Errorf("%w: unknown status %q", services.ErrValidation, part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	list, err := s.daemon.Jobs(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := api.JobListResponse{Jobs: make([]api.Job, 0, len(list))}
	for _, job := range list {
		resp.Jobs = append(resp.Jobs, api.FromJob(job, s.daemon.QueuePosition(job.ID)))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, position, err := s.daemon.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job, position)})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job, s.daemon.QueuePosition(job.ID))})
}

func (s *apiServer) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	l, err := s.daemon.Ledger(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if wantsYAML(r) {
		data, err := ledger.MarshalEditsYAML(ledger.EditsFrom(l.All()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	s.writeJSON(w, http.StatusOK, l)
}

func (s *apiServer) handleApplyLedger(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read ledger: %w", services.ErrValidation, err))
		return
	}
	edits, err := ledger.ParseEdits(data)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %w", services.ErrValidation, err))
		return
	}
	job, err := s.daemon.UpdateLedger(r.Context(), r.PathValue("id"), edits)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job, s.daemon.QueuePosition(job.ID))})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.CacheStatus())
}

func (s *apiServer) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, api.CacheClearResponse{Removed: s.daemon.ClearCache()})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.TestNotification(r.Context()); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrCollaborator, "", "send test notification", "", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = defaultLogLimit
	}
	follow := queryFlag(query.Get("follow"))
	tail := queryFlag(query.Get("tail"))
	jobID := strings.TrimSpace(query.Get("job"))

	if tail && since == 0 && !follow && jobID == "" {
		events, next := hub.Tail(limit)
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: api.FromLogEvents(events), Next: next})
		return
	}

	if follow {
		clearWriteDeadline(w)
	}
	events, next, err := hub.Fetch(r.Context(), since, limit, jobID, follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, r, err)
		return
	}
	if r.Context().Err() != nil {
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: api.FromLogEvents(events), Next: next})
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

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := errorStatus(err)
	requestID, _ := services.RequestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		s.logger.Error("api request failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String("request_id", requestID),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: kind, RequestID: requestID})
}

// errorStatus maps an error to its HTTP status and machine-readable kind.
func errorStatus(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, workflow.ErrJobBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, workflow.ErrQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, workflow.ErrNotRunning):
		return http.StatusServiceUnavailable, "not_running"
	case errors.Is(err, storage.ErrDisabled):
		return http.StatusBadRequest, "storage_disabled"
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, services.ErrCollaborator):
		return http.StatusBadGateway, services.Classify(err)
	}
	return http.StatusInternalServerError, services.Classify(err)
}

func wantsYAML(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "yaml")
}

func queryFlag(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

// clearWriteDeadline lifts the server write timeout for long-lived responses.
func clearWriteDeadline(w http.ResponseWriter) {
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
}
