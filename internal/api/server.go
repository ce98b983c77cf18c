package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"content-writer/internal/auth"
	"content-writer/internal/config"
	"content-writer/internal/models"
	"content-writer/internal/telemetry"
	"content-writer/internal/writer"
)

const version = "0.2.0"

// Controller is the task lifecycle surface the handlers call into.
type Controller interface {
	Submit(ctx context.Context, input writer.BriefInput) (models.Task, string, error)
	Run(ctx context.Context, taskID string) (writer.RunResult, error)
	Approve(ctx context.Context, taskID string) (models.Task, error)
	Reject(ctx context.Context, taskID, reason string, regenerate bool) (models.Task, error)
	Get(ctx context.Context, taskID string) (models.Task, error)
}

// Pinger reports whether the task store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP handlers.
type Server struct {
	cfg       config.Config
	ctrl      Controller
	tokens    *auth.TokenService
	guard     *auth.TenantGuard
	insights  writer.Insights
	readiness Pinger
	validate  *validator.Validate
	log       *zap.Logger
	started   time.Time
}

// New constructs the API server.
func New(cfg config.Config, ctrl Controller, tokens *auth.TokenService, guard *auth.TenantGuard, insights writer.Insights, readiness Pinger, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		ctrl:      ctrl,
		tokens:    tokens,
		guard:     guard,
		insights:  insights,
		readiness: readiness,
		validate:  validator.New(),
		log:       log,
		started:   time.Now(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/diag", s.handleDiag)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/v1/dev/mint", s.handleDevMint)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/v1/write/brief", s.handleBrief)
		r.Post("/v1/write/run", s.handleRun)
		r.Get("/v1/write/{id}", s.handleGetTask)
		r.Post("/v1/writer/feedback", s.handleFeedback)
		r.Get("/v1/writer/hints", s.handleHints)
		r.Post("/v1/writer/approve/{taskId}", s.handleApprove)
		r.Post("/v1/writer/reject/{taskId}", s.handleReject)
	})

	return r
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(auth.Claims)
	return claims
}

// authMiddleware verifies the bearer token and stashes its claims.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := ""
		if strings.HasPrefix(header, "Bearer ") {
			token = header[len("Bearer "):]
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			s.log.Warn("auth failed", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": s.cfg.ServiceName})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.readiness.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ready": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleDiag(w http.ResponseWriter, r *http.Request) {
	dbState := "connected"
	if err := s.readiness.Ping(r.Context()); err != nil {
		dbState = "disconnected"
	}
	redisState := "not_configured"
	if s.cfg.RedisURL != "" {
		redisState = "configured"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  s.cfg.ServiceName,
		"version":  version,
		"env":      s.cfg.Env,
		"database": dbState,
		"redis":    redisState,
		"uptime":   time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleDevMint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	token, err := s.tokens.IssueDevToken(body.Name, r.Header.Get("x-dev-secret"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad dev secret"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type briefResponse struct {
	models.Task
	Async bool   `json:"async,omitempty"`
	JobID string `json:"jobId,omitempty"`
}

func (s *Server) handleBrief(w http.ResponseWriter, r *http.Request) {
	var input writer.BriefInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := s.guard.Authorize(claimsFrom(r.Context()), input.TenantID); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	task, jobID, err := s.ctrl.Submit(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobID != "" {
		writeJSON(w, http.StatusAccepted, briefResponse{Task: task, Async: true, JobID: jobID})
		return
	}
	writeJSON(w, http.StatusCreated, briefResponse{Task: task})
}

type runResponse struct {
	models.Task
	ImagePrompt string   `json:"image_prompt"`
	Hashtags    []string `json:"hashtags"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID string `json:"taskId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "taskId required"})
		return
	}

	result, err := s.ctrl.Run(r.Context(), body.TaskID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		Task:        result.Task,
		ImagePrompt: result.ImagePrompt,
		Hashtags:    result.Hashtags,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.ctrl.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var input models.FeedbackInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := s.validate.Struct(input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error", "details": err.Error()})
		return
	}
	if err := s.guard.Authorize(claimsFrom(r.Context()), input.TenantID); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	s.log.Info("received feedback",
		zap.String("tenant_id", input.TenantID),
		zap.String("content_id", input.ContentID),
		zap.String("type", input.FeedbackType))

	resp, err := s.insights.SendFeedback(r.Context(), input)
	if err != nil {
		s.log.Error("error sending feedback", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "feedback_failed", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"feedbackType":     input.FeedbackType,
		"insightsResponse": resp,
	})
}

func (s *Server) handleHints(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenantId required"})
		return
	}
	if err := s.guard.Authorize(claimsFrom(r.Context()), tenantID); err != nil {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}
	hints := s.insights.Hints(r.Context(), tenantID)
	writeJSON(w, http.StatusOK, map[string]any{"hints": hints})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	task, err := s.ctrl.Approve(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason     string `json:"reason"`
		Regenerate bool   `json:"regenerate"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	task, err := s.ctrl.Reject(r.Context(), chi.URLParam(r, "taskId"), body.Reason, body.Regenerate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "willRegenerate": body.Regenerate})
}

// writeError maps lifecycle errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var invalidStatus *writer.InvalidStatusError
	switch {
	case errors.Is(err, writer.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation_error", "details": err.Error()})
	case errors.Is(err, writer.ErrTaskNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &invalidStatus):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_status", "details": invalidStatus.Error()})
	case errors.Is(err, writer.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "details": err.Error()})
	case errors.Is(err, writer.ErrGenerationFailed):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "llm_generation_failed", "details": err.Error()})
	default:
		s.log.Error("unhandled error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
