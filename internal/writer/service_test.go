package writer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"content-writer/internal/gateway"
	"content-writer/internal/models"
	"content-writer/internal/store"
)

// fakeStore keeps tasks in memory but honors the conditional-write
// semantics of the real store.
type fakeStore struct {
	tasks map[string]*models.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*models.Task)}
}

func (s *fakeStore) CreateTask(_ context.Context, tenantID, brief string, tone, audience *string) (models.Task, error) {
	task := models.Task{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Brief:    brief,
		Tone:     tone,
		Audience: audience,
		Status:   models.StatusQueued,
	}
	s.tasks[task.ID] = &task
	return task, nil
}

func (s *fakeStore) GetTask(_ context.Context, id string) (models.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, store.ErrTaskNotFound
	}
	return *task, nil
}

func (s *fakeStore) UpdateStatusIf(_ context.Context, id, from, to string, content *string) (models.Task, bool, error) {
	task, ok := s.tasks[id]
	if !ok || task.Status != from {
		return models.Task{}, false, nil
	}
	task.Status = to
	if content != nil {
		task.Content = content
	}
	return *task, true, nil
}

func (s *fakeStore) Requeue(_ context.Context, id string) (models.Task, bool, error) {
	task, ok := s.tasks[id]
	if !ok || task.Status != models.StatusPendingApproval {
		return models.Task{}, false, nil
	}
	task.Status = models.StatusQueued
	task.Content = nil
	return *task, true, nil
}

type fakeDispatcher struct {
	jobs  []models.Job
	jobID string
	err   error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, job models.Job) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.jobs = append(d.jobs, job)
	return d.jobID, nil
}

type fakeGenerator struct {
	post   models.GeneratedPost
	err    error
	params []gateway.GenerateParams
	// onGenerate runs mid-call, before returning, to simulate state changing
	// while generation is in flight.
	onGenerate func()
}

func (g *fakeGenerator) Generate(_ context.Context, params gateway.GenerateParams) (models.GeneratedPost, error) {
	g.params = append(g.params, params)
	if g.onGenerate != nil {
		g.onGenerate()
	}
	if g.err != nil {
		return models.GeneratedPost{}, g.err
	}
	return g.post, nil
}

type fakeInsights struct {
	hints    models.Hints
	feedback []models.FeedbackInput
	sendErr  error
}

func (i *fakeInsights) Hints(context.Context, string) models.Hints { return i.hints }

func (i *fakeInsights) SendFeedback(_ context.Context, input models.FeedbackInput) (gateway.FeedbackResponse, error) {
	i.feedback = append(i.feedback, input)
	if i.sendErr != nil {
		return nil, i.sendErr
	}
	return gateway.FeedbackResponse{"ok": true}, nil
}

type fakeEvents struct {
	events []models.Event
}

func (e *fakeEvents) LogEvent(_ context.Context, event models.Event) {
	e.events = append(e.events, event)
}

type fixture struct {
	svc        *Service
	store      *fakeStore
	dispatcher *fakeDispatcher
	generator  *fakeGenerator
	insights   *fakeInsights
	events     *fakeEvents
}

func newFixture() *fixture {
	f := &fixture{
		store:      newFakeStore(),
		dispatcher: &fakeDispatcher{},
		generator:  &fakeGenerator{post: models.GeneratedPost{Content: "generated!", Hashtags: []string{"#go"}, ImagePrompt: "img"}},
		insights:   &fakeInsights{},
		events:     &fakeEvents{},
	}
	f.svc = New(f.store, f.dispatcher, f.generator, f.insights, f.events, zap.NewNop())
	return f
}

func (f *fixture) submit(t *testing.T) models.Task {
	t.Helper()
	task, _, err := f.svc.Submit(context.Background(), BriefInput{
		TenantID: "t1",
		Brief:    "Launch our new espresso blend",
	})
	require.NoError(t, err)
	return task
}

func TestSubmit(t *testing.T) {
	t.Run("valid brief creates queued task with no content", func(t *testing.T) {
		f := newFixture()
		f.dispatcher.jobID = "job-7"

		task, jobID, err := f.svc.Submit(context.Background(), BriefInput{
			TenantID: "t1",
			Brief:    "Launch our new espresso blend",
			Tone:     "warm",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusQueued, task.Status)
		assert.Nil(t, task.Content)
		assert.Equal(t, "job-7", jobID)
		require.Len(t, f.dispatcher.jobs, 1)
		assert.Equal(t, models.Job{TaskID: task.ID, TenantID: "t1"}, f.dispatcher.jobs[0])
	})

	t.Run("short brief fails validation", func(t *testing.T) {
		f := newFixture()
		_, _, err := f.svc.Submit(context.Background(), BriefInput{TenantID: "t1", Brief: "hey"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing tenant fails validation", func(t *testing.T) {
		f := newFixture()
		_, _, err := f.svc.Submit(context.Background(), BriefInput{Brief: "long enough brief"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("enqueue failure degrades to synchronous mode", func(t *testing.T) {
		f := newFixture()
		f.dispatcher.err = errors.New("broker down")
		task, jobID, err := f.svc.Submit(context.Background(), BriefInput{
			TenantID: "t1", Brief: "Launch our new espresso blend",
		})
		require.NoError(t, err)
		assert.Empty(t, jobID)
		assert.Equal(t, models.StatusQueued, task.Status)
	})
}

func TestRun(t *testing.T) {
	t.Run("success transitions queued to pending_approval", func(t *testing.T) {
		f := newFixture()
		task := f.submit(t)

		result, err := f.svc.Run(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPendingApproval, result.Task.Status)
		require.NotNil(t, result.Task.Content)
		assert.Equal(t, "generated!", *result.Task.Content)
		assert.Equal(t, []string{"#go"}, result.Hashtags)
		assert.Equal(t, "img", result.ImagePrompt)

		require.Len(t, f.events.events, 2)
		assert.Equal(t, "agent.writer.run.start", f.events.events[0].EventType)
		assert.Equal(t, "agent.writer.run.pending_approval", f.events.events[1].EventType)
		assert.Equal(t, len("generated!"), f.events.events[1].Meta["contentLen"])
	})

	t.Run("unknown task", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Run(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("generation failure leaves task queued", func(t *testing.T) {
		f := newFixture()
		f.generator.err = errors.New("model timeout")
		task := f.submit(t)

		_, err := f.svc.Run(context.Background(), task.ID)
		assert.ErrorIs(t, err, ErrGenerationFailed)

		got, err := f.store.GetTask(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusQueued, got.Status)
		assert.Nil(t, got.Content)
	})

	t.Run("hint tone overrides task tone", func(t *testing.T) {
		f := newFixture()
		f.insights.hints = models.Hints{Tone: "edgy"}
		task := f.submit(t)

		_, err := f.svc.Run(context.Background(), task.ID)
		require.NoError(t, err)
		require.Len(t, f.generator.params, 1)
		assert.Equal(t, "edgy", f.generator.params[0].Tone)
	})

	t.Run("concurrent transition loses to the other writer", func(t *testing.T) {
		f := newFixture()
		task := f.submit(t)
		// Another run commits while ours is still generating, so the status
		// observed at read time no longer matches at write time.
		f.generator.onGenerate = func() {
			f.store.tasks[task.ID].Status = models.StatusPendingApproval
		}

		_, err := f.svc.Run(context.Background(), task.ID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("re-running a pending task regenerates its content", func(t *testing.T) {
		f := newFixture()
		task := f.submit(t)
		_, err := f.svc.Run(context.Background(), task.ID)
		require.NoError(t, err)

		f.generator.post.Content = "second draft"
		result, err := f.svc.Run(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPendingApproval, result.Task.Status)
		require.NotNil(t, result.Task.Content)
		assert.Equal(t, "second draft", *result.Task.Content)
	})
}

func TestApprove(t *testing.T) {
	t.Run("approves pending task and sends feedback", func(t *testing.T) {
		f := newFixture()
		task := f.submit(t)
		_, err := f.svc.Run(context.Background(), task.ID)
		require.NoError(t, err)

		approved, err := f.svc.Approve(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, approved.Status)

		require.Len(t, f.insights.feedback, 1)
		assert.Equal(t, models.FeedbackApproved, f.insights.feedback[0].FeedbackType)
		assert.Equal(t, task.ID, f.insights.feedback[0].ContentID)
	})

	t.Run("feedback failure does not fail the approval", func(t *testing.T) {
		f := newFixture()
		f.insights.sendErr = errors.New("insights down")
		task := f.submit(t)
		_, err := f.svc.Run(context.Background(), task.ID)
		require.NoError(t, err)

		approved, err := f.svc.Approve(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, approved.Status)
	})

	t.Run("invalid status for each non-pending state", func(t *testing.T) {
		for _, status := range []string{models.StatusQueued, models.StatusApproved, models.StatusRejected} {
			f := newFixture()
			task := f.submit(t)
			f.store.tasks[task.ID].Status = status

			_, err := f.svc.Approve(context.Background(), task.ID)
			var invalid *InvalidStatusError
			require.ErrorAs(t, err, &invalid, "status %s", status)
			assert.Equal(t, status, invalid.Actual)
			assert.Equal(t, models.StatusPendingApproval, invalid.Expected)
		}
	})

	t.Run("unknown task", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.Approve(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestReject(t *testing.T) {
	pending := func(t *testing.T, f *fixture) models.Task {
		t.Helper()
		task := f.submit(t)
		_, err := f.svc.Run(context.Background(), task.ID)
		require.NoError(t, err)
		return task
	}

	t.Run("without regenerate goes terminal", func(t *testing.T) {
		f := newFixture()
		task := pending(t, f)

		rejected, err := f.svc.Reject(context.Background(), task.ID, "off brand", false)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, rejected.Status)

		require.Len(t, f.insights.feedback, 1)
		assert.Equal(t, models.FeedbackRejected, f.insights.feedback[0].FeedbackType)
		assert.Equal(t, "off brand", f.insights.feedback[0].RejectionReason)
	})

	t.Run("with regenerate loops back to queued", func(t *testing.T) {
		f := newFixture()
		task := pending(t, f)
		jobsBefore := len(f.dispatcher.jobs)

		requeued, err := f.svc.Reject(context.Background(), task.ID, "try again", true)
		require.NoError(t, err)
		assert.Equal(t, models.StatusQueued, requeued.Status)
		assert.Nil(t, requeued.Content)
		assert.Len(t, f.dispatcher.jobs, jobsBefore+1)
	})

	t.Run("invalid status", func(t *testing.T) {
		f := newFixture()
		task := f.submit(t)

		_, err := f.svc.Reject(context.Background(), task.ID, "", false)
		var invalid *InvalidStatusError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, models.StatusQueued, invalid.Actual)
	})
}

func TestSubmitRunApproveScenario(t *testing.T) {
	f := newFixture()

	task, _, err := f.svc.Submit(context.Background(), BriefInput{
		TenantID: "t1",
		Brief:    "Launch our new espresso blend",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, task.Status)

	result, err := f.svc.Run(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingApproval, result.Task.Status)
	require.NotNil(t, result.Task.Content)
	assert.NotEmpty(t, *result.Task.Content)

	approved, err := f.svc.Approve(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.Len(t, f.insights.feedback, 1)
	assert.Equal(t, "approved", f.insights.feedback[0].FeedbackType)
}
