package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aatumaykin/xavier/internal/agent/loop"
	"github.com/aatumaykin/xavier/internal/auth"
	"github.com/aatumaykin/xavier/internal/llm"
	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/metrics"
)

// Engine is the part of the orchestration engine served over HTTP.
type Engine interface {
	Ask(ctx context.Context, userID, text string) (string, error)
	Dispatch(userID, text string) error
}

type AskRequest struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	Password string `json:"password,omitempty"`
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type SystemTriggerRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type AgentServerConfig struct {
	Engine   Engine
	Verifier auth.Verifier
	// AuthRequired makes /ask check the password.
	AuthRequired bool
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

// AgentServer is the orchestration service front door.
type AgentServer struct {
	engine       Engine
	verifier     auth.Verifier
	authRequired bool
	logger       *logger.Logger
	metrics      *metrics.Metrics
}

func NewAgentServer(cfg AgentServerConfig) *AgentServer {
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = auth.AllowAll{}
	}
	return &AgentServer{
		engine:       cfg.Engine,
		verifier:     verifier,
		authRequired: cfg.AuthRequired,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

func (s *AgentServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /system_trigger", s.handleSystemTrigger)
	mux.HandleFunc("GET /health", handleHealth(s.logger))
	mux.Handle("GET /metrics", s.metrics.Handler())
	return withLogging(mux, s.logger, s.metrics)
}

// Serve listens on addr until ctx is cancelled.
func (s *AgentServer) Serve(ctx context.Context, addr string) error {
	return serve(ctx, "agent", addr, s.Handler(), s.logger)
}

func (s *AgentServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		errorResponse(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		errorResponse(w, http.StatusBadRequest, "text is required", s.logger)
		return
	}

	if s.authRequired {
		if err := s.verifier.Verify(r.Context(), req.UserID, req.Password); err != nil {
			s.logger.WarnCtx(r.Context(), "ask rejected", logger.Field{Key: "user_id", Value: req.UserID})
			errorResponse(w, http.StatusUnauthorized, auth.ErrUnauthorized.Error(), s.logger)
			return
		}
	}

	answer, err := s.engine.Ask(r.Context(), req.UserID, req.Text)
	if err != nil {
		code := askStatus(err)
		s.logger.ErrorCtx(r.Context(), "turn failed", err,
			logger.Field{Key: "user_id", Value: req.UserID},
			logger.Field{Key: "status", Value: code})
		errorResponse(w, code, err.Error(), s.logger)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "success", Response: answer}, s.logger)
}

// askStatus maps a turn failure to an HTTP status.
func askStatus(err error) int {
	switch {
	case errors.Is(err, loop.ErrEmptyUserID), errors.Is(err, loop.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, llm.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *AgentServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		errorResponse(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}

	if err := s.verifier.Verify(r.Context(), strings.TrimSpace(req.UserID), req.Password); err != nil {
		errorResponse(w, http.StatusUnauthorized, auth.ErrUnauthorized.Error(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "success"}, s.logger)
}

func (s *AgentServer) handleSystemTrigger(w http.ResponseWriter, r *http.Request) {
	var req SystemTriggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		errorResponse(w, http.StatusBadRequest, "user_id is required", s.logger)
		return
	}

	if err := s.engine.Dispatch(req.UserID, req.Text); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, loop.ErrShuttingDown) {
			code = http.StatusServiceUnavailable
		}
		errorResponse(w, code, err.Error(), s.logger)
		return
	}

	s.logger.InfoCtx(r.Context(), "system trigger received", logger.Field{Key: "user_id", Value: req.UserID})
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "received"}, s.logger)
}
