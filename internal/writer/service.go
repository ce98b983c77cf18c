package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"content-writer/internal/gateway"
	"content-writer/internal/models"
	"content-writer/internal/queue"
	"content-writer/internal/store"
	"content-writer/internal/telemetry"
)

// TaskStore is the persistence contract the controller needs.
type TaskStore interface {
	CreateTask(ctx context.Context, tenantID, brief string, tone, audience *string) (models.Task, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	UpdateStatusIf(ctx context.Context, id, from, to string, content *string) (models.Task, bool, error)
	Requeue(ctx context.Context, id string) (models.Task, bool, error)
}

// Generator produces content for a brief.
type Generator interface {
	Generate(ctx context.Context, params gateway.GenerateParams) (models.GeneratedPost, error)
}

// Insights supplies generation hints and records approval feedback.
type Insights interface {
	Hints(ctx context.Context, tenantID string) models.Hints
	SendFeedback(ctx context.Context, input models.FeedbackInput) (gateway.FeedbackResponse, error)
}

// Events is the fire-and-forget audit sink.
type Events interface {
	LogEvent(ctx context.Context, event models.Event)
}

// BriefInput is the payload accepted by Submit.
type BriefInput struct {
	TenantID string `json:"tenantId" validate:"required"`
	Brief    string `json:"brief" validate:"required,min=5"`
	Tone     string `json:"tone,omitempty"`
	Audience string `json:"audience,omitempty"`
}

// RunResult carries the updated task together with generation extras that
// are returned to the caller but not persisted.
type RunResult struct {
	Task        models.Task
	Hashtags    []string
	ImagePrompt string
}

// Service drives a task through its lifecycle:
// queued -> pending_approval -> approved | rejected, with
// rejected+regenerate looping back to queued. Generated content always
// passes the pending_approval gate; nothing is auto-published.
type Service struct {
	store      TaskStore
	dispatcher queue.Dispatcher
	generator  Generator
	insights   Insights
	events     Events
	validate   *validator.Validate
	log        *zap.Logger
}

// New constructs the controller with its collaborators injected.
func New(st TaskStore, dispatcher queue.Dispatcher, generator Generator, insights Insights, events Events, log *zap.Logger) *Service {
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		generator:  generator,
		insights:   insights,
		events:     events,
		validate:   validator.New(),
		log:        log,
	}
}

// Submit validates a brief, creates the task queued, and tries to hand it
// to the queue. An empty job id means no broker accepted it and the caller
// should trigger the run itself.
func (s *Service) Submit(ctx context.Context, input BriefInput) (models.Task, string, error) {
	if err := s.validate.Struct(input); err != nil {
		return models.Task{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	task, err := s.store.CreateTask(ctx, input.TenantID, input.Brief,
		emptyToNil(input.Tone), emptyToNil(input.Audience))
	if err != nil {
		return models.Task{}, "", fmt.Errorf("create task: %w", err)
	}
	telemetry.TasksSubmitted.Inc()

	jobID, err := s.dispatcher.Enqueue(ctx, models.Job{TaskID: task.ID, TenantID: task.TenantID})
	if err != nil {
		// The task row exists and can still be run directly.
		s.log.Warn("enqueue failed, task stays queued for direct run",
			zap.String("task_id", task.ID), zap.Error(err))
		return task, "", nil
	}
	if jobID != "" {
		s.log.Info("job added to queue",
			zap.String("job_id", jobID), zap.String("task_id", task.ID))
	}
	return task, jobID, nil
}

// Run drives one task through generation. On generation failure the task is
// left unchanged (still queued), so the operation is retry-safe.
func (s *Service) Run(ctx context.Context, taskID string) (RunResult, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return RunResult{}, ErrTaskNotFound
		}
		return RunResult{}, fmt.Errorf("fetch task: %w", err)
	}

	hints := s.insights.Hints(ctx, task.TenantID)
	if !hints.IsEmpty() {
		s.log.Info("got hints from insights", zap.String("tenant_id", task.TenantID))
	}

	s.events.LogEvent(ctx, models.Event{
		TenantID:  task.TenantID,
		EventType: "agent.writer.run.start",
		Source:    "writer",
		Value:     1,
		Meta: map[string]any{
			"taskId":   task.ID,
			"brief":    task.Brief,
			"tone":     task.Tone,
			"audience": task.Audience,
			"hasHints": !hints.IsEmpty(),
		},
	})

	tone := hints.Tone
	if tone == "" && task.Tone != nil {
		tone = *task.Tone
	}
	audience := ""
	if task.Audience != nil {
		audience = *task.Audience
	}

	result, err := s.generator.Generate(ctx, gateway.GenerateParams{
		TenantID: task.TenantID,
		Brief:    task.Brief,
		Tone:     tone,
		Audience: audience,
	})
	if err != nil {
		telemetry.GenerationFailures.Inc()
		s.log.Error("llm generation failed", zap.String("task_id", taskID), zap.Error(err))
		return RunResult{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	updated, ok, err := s.store.UpdateStatusIf(ctx, task.ID, task.Status, models.StatusPendingApproval, &result.Content)
	if err != nil {
		return RunResult{}, fmt.Errorf("update task: %w", err)
	}
	if !ok {
		// Someone transitioned the task while we were generating; their
		// write wins and ours is discarded.
		return RunResult{}, ErrConflict
	}
	telemetry.TasksGenerated.Inc()

	contentLen := 0
	if updated.Content != nil {
		contentLen = len(*updated.Content)
	}
	s.events.LogEvent(ctx, models.Event{
		TenantID:  updated.TenantID,
		EventType: "agent.writer.run.pending_approval",
		Source:    "writer",
		Value:     1,
		Meta: map[string]any{
			"taskId":     updated.ID,
			"contentLen": contentLen,
		},
	})

	return RunResult{
		Task:        updated,
		Hashtags:    result.Hashtags,
		ImagePrompt: result.ImagePrompt,
	}, nil
}

// Approve moves a pending task to its terminal accepted state and reports
// positive feedback, best-effort.
func (s *Service) Approve(ctx context.Context, taskID string) (models.Task, error) {
	task, ok, err := s.store.UpdateStatusIf(ctx, taskID, models.StatusPendingApproval, models.StatusApproved, nil)
	if err != nil {
		return models.Task{}, fmt.Errorf("approve task: %w", err)
	}
	if !ok {
		return models.Task{}, s.invalidStatus(ctx, taskID)
	}

	s.sendFeedback(ctx, task, models.FeedbackApproved, "")
	return task, nil
}

// Reject moves a pending task to rejected, or back to queued when the
// caller asks for regeneration; negative feedback is reported best-effort.
func (s *Service) Reject(ctx context.Context, taskID, reason string, regenerate bool) (models.Task, error) {
	var task models.Task
	var ok bool
	var err error
	if regenerate {
		task, ok, err = s.store.Requeue(ctx, taskID)
	} else {
		task, ok, err = s.store.UpdateStatusIf(ctx, taskID, models.StatusPendingApproval, models.StatusRejected, nil)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("reject task: %w", err)
	}
	if !ok {
		return models.Task{}, s.invalidStatus(ctx, taskID)
	}

	if regenerate {
		if _, err := s.dispatcher.Enqueue(ctx, models.Job{TaskID: task.ID, TenantID: task.TenantID}); err != nil {
			s.log.Warn("re-enqueue after reject failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}

	s.sendFeedback(ctx, task, models.FeedbackRejected, reason)
	return task, nil
}

// Get fetches a task by id.
func (s *Service) Get(ctx context.Context, taskID string) (models.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		return models.Task{}, ErrTaskNotFound
	}
	return task, err
}

// invalidStatus turns a missed conditional write into the right error:
// either the task does not exist, or it is in the wrong state.
func (s *Service) invalidStatus(ctx context.Context, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("fetch task: %w", err)
	}
	return &InvalidStatusError{Actual: task.Status, Expected: models.StatusPendingApproval}
}

func (s *Service) sendFeedback(ctx context.Context, task models.Task, feedbackType, reason string) {
	content := ""
	if task.Content != nil {
		content = *task.Content
	}
	_, err := s.insights.SendFeedback(ctx, models.FeedbackInput{
		TenantID:        task.TenantID,
		ContentID:       task.ID,
		FeedbackType:    feedbackType,
		OriginalContent: content,
		RejectionReason: reason,
	})
	if err != nil {
		s.log.Warn("feedback call failed",
			zap.String("task_id", task.ID),
			zap.String("feedback_type", feedbackType),
			zap.Error(err))
	}
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
