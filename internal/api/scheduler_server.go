package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/aatumaykin/xavier/internal/cron"
	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/metrics"
)

// TaskScheduler is the part of the scheduler served over HTTP.
type TaskScheduler interface {
	Create(ctx context.Context, userID, spec, text string) (cron.TaskView, error)
	List() []cron.TaskView
	Get(taskID string) (cron.TaskView, error)
	Delete(ctx context.Context, taskID string) error
}

type CreateTaskRequest struct {
	UserID string `json:"user_id"`
	Cron   string `json:"cron"`
	Text   string `json:"text"`
}

type SchedulerServerConfig struct {
	Scheduler TaskScheduler
	// History is optional; without it /tasks/{id}/runs answers 404.
	History *cron.History
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// SchedulerServer manages tasks over HTTP.
type SchedulerServer struct {
	scheduler TaskScheduler
	history   *cron.History
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewSchedulerServer(cfg SchedulerServerConfig) *SchedulerServer {
	return &SchedulerServer{
		scheduler: cfg.Scheduler,
		history:   cfg.History,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

func (s *SchedulerServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", s.handleCreate)
	mux.HandleFunc("GET /tasks", s.handleList)
	mux.HandleFunc("GET /tasks/{task_id}", s.handleGet)
	mux.HandleFunc("DELETE /tasks/{task_id}", s.handleDelete)
	mux.HandleFunc("GET /tasks/{task_id}/runs", s.handleRuns)
	mux.HandleFunc("GET /health", handleHealth(s.logger))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return withLogging(mux, s.logger, s.metrics)
}

func (s *SchedulerServer) Serve(ctx context.Context, addr string) error {
	return serve(ctx, "scheduler", addr, s.Handler(), s.logger)
}

func (s *SchedulerServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	view, err := s.scheduler.Create(r.Context(), req.UserID, req.Cron, req.Text)
	if err != nil {
		var verr *cron.ValidationError
		if errors.As(err, &verr) {
			errorResponse(w, http.StatusBadRequest, verr.Error(), s.logger)
			return
		}
		s.logger.ErrorCtx(r.Context(), "failed to create task", err)
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}

	writeJSON(w, http.StatusCreated, view, s.logger)
}

// handleList returns every task, or only the tasks of ?user_id=.
func (s *SchedulerServer) handleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	views := s.scheduler.List()
	if userID != "" {
		filtered := make([]cron.TaskView, 0, len(views))
		for _, v := range views {
			if v.UserID == userID {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	writeJSON(w, http.StatusOK, views, s.logger)
}

func (s *SchedulerServer) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.scheduler.Get(r.PathValue("task_id"))
	if errors.Is(err, cron.ErrTaskNotFound) {
		errorResponse(w, http.StatusNotFound, err.Error(), s.logger)
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, view, s.logger)
}

func (s *SchedulerServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.scheduler.Delete(r.Context(), r.PathValue("task_id"))
	if errors.Is(err, cron.ErrTaskNotFound) {
		errorResponse(w, http.StatusNotFound, err.Error(), s.logger)
		return
	}
	if err != nil {
		s.logger.ErrorCtx(r.Context(), "failed to delete task", err)
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "deleted"}, s.logger)
}

// handleRuns lists recent fires, newest first. Fires of deleted tasks stay
// visible.
func (s *SchedulerServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		errorResponse(w, http.StatusNotFound, "fire history is not enabled", s.logger)
		return
	}

	limit := cron.DefaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorResponse(w, http.StatusBadRequest, "limit must be a positive integer", s.logger)
			return
		}
		limit = n
	}

	taskID := r.PathValue("task_id")
	runs, err := s.history.Recent(r.Context(), taskID, limit)
	if err != nil {
		s.logger.ErrorCtx(r.Context(), "failed to read fire history", err)
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if len(runs) == 0 {
		if _, err := s.scheduler.Get(taskID); errors.Is(err, cron.ErrTaskNotFound) {
			errorResponse(w, http.StatusNotFound, err.Error(), s.logger)
			return
		}
	}
	writeJSON(w, http.StatusOK, runs, s.logger)
}
