package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

type fakeAppRepo struct {
	mu       sync.Mutex
	apps     map[string]domain.Application
	statuses []domain.EvaluationStatus
	lastErr  string
}

func newFakeAppRepo() *fakeAppRepo {
	return &fakeAppRepo{apps: map[string]domain.Application{}}
}

func (r *fakeAppRepo) Create(_ domain.Context, a domain.Application) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[a.ID] = a
	return a.ID, nil
}

func (r *fakeAppRepo) Get(_ domain.Context, id string) (domain.Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[id]
	if !ok {
		return domain.Application{}, fmt.Errorf("op=application.get: %w", domain.ErrNotFound)
	}
	return a, nil
}

func (r *fakeAppRepo) UpdateStatus(_ domain.Context, id string, status domain.EvaluationStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[id]
	if !ok {
		return fmt.Errorf("op=application.update_status: %w", domain.ErrNotFound)
	}
	a.Status = status
	a.Error = ""
	if errMsg != nil {
		a.Error = *errMsg
	}
	r.apps[id] = a
	r.statuses = append(r.statuses, status)
	r.lastErr = a.Error
	return nil
}

type fakeEvalRepo struct {
	mu      sync.Mutex
	results map[string]domain.EvaluationResult
	deletes int
}

func newFakeEvalRepo() *fakeEvalRepo {
	return &fakeEvalRepo{results: map[string]domain.EvaluationResult{}}
}

func (r *fakeEvalRepo) Upsert(_ domain.Context, res domain.EvaluationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.ApplicationID] = res
	return nil
}

func (r *fakeEvalRepo) GetByApplicationID(_ domain.Context, id string) (domain.EvaluationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[id]
	if !ok {
		return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.get: %w", domain.ErrNotFound)
	}
	return res, nil
}

func (r *fakeEvalRepo) DeleteByApplicationID(_ domain.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.results, id)
	r.deletes++
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []domain.EvaluateTaskPayload
}

func (q *fakeQueue) EnqueueEvaluate(_ domain.Context, p domain.EvaluateTaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return p.ApplicationID, nil
}

type fakeGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	releases int
}

func newFakeGuard() *fakeGuard { return &fakeGuard{held: map[string]bool{}} }

func (g *fakeGuard) Acquire(_ domain.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[id] {
		return false, nil
	}
	g.held[id] = true
	return true, nil
}

func (g *fakeGuard) Release(_ domain.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, id)
	g.releases++
	return nil
}

type lifecycleFixture struct {
	apps  *fakeAppRepo
	evals *fakeEvalRepo
	queue *fakeQueue
	guard *fakeGuard
	svc   *Service
}

func newLifecycleFixture(t *testing.T, ai domain.AIClient, countFailed bool) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		apps:  newFakeAppRepo(),
		evals: newFakeEvalRepo(),
		queue: &fakeQueue{},
		guard: newFakeGuard(),
	}
	orch := newTestOrchestrator(t, ai, testOrchestratorConfig())
	f.svc = NewService(f.apps, f.evals, f.queue, f.guard, orch, countFailed)
	return f
}

func (f *lifecycleFixture) seedApplication(id string, answers []domain.Answer) {
	f.apps.apps[id] = domain.Application{
		ID:      id,
		Stage:   domain.StageIdea,
		Answers: answers,
		Status:  domain.EvaluationPending,
	}
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	f := newLifecycleFixture(t, ai, true)

	app, err := f.svc.Submit(context.Background(), domain.StageIdea, testAnswers())
	require.NoError(t, err)
	assert.NotEmpty(t, app.ID)
	assert.Equal(t, domain.EvaluationPending, app.Status)

	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, app.ID, f.queue.payloads[0].ApplicationID)
	assert.False(t, f.queue.payloads[0].Reevaluate)
}

func TestSubmitRequiresAnswers(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	f := newLifecycleFixture(t, ai, true)

	_, err := f.svc.Submit(context.Background(), domain.StageIdea, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Empty(t, f.queue.payloads)
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	f := newLifecycleFixture(t, ai, true)
	f.seedApplication("app-1", testAnswers())

	res, err := f.svc.Run(context.Background(), "app-1", false)
	require.NoError(t, err)
	assert.Equal(t, "app-1", res.ApplicationID)
	assert.InDelta(t, 8.0, res.OverallScore, 1e-9)
	assert.Len(t, res.Scores, 3)
	assert.False(t, res.CompletedAt.IsZero())

	assert.Equal(t,
		[]domain.EvaluationStatus{domain.EvaluationProcessing, domain.EvaluationCompleted},
		f.apps.statuses)
	stored, err := f.evals.GetByApplicationID(context.Background(), "app-1")
	require.NoError(t, err)
	assert.InDelta(t, 8.0, stored.OverallScore, 1e-9)
	assert.Equal(t, 1, f.guard.releases)
}

func TestRunAggregationCountsFailedAsZero(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, instructions, _ string) (string, error) {
		if strings.Contains(instructions, "long-term vision") {
			return "", errors.New("boom")
		}
		return goodResponse(8), nil
	}}
	f := newLifecycleFixture(t, ai, true)
	f.seedApplication("app-1", testAnswers())

	res, err := f.svc.Run(context.Background(), "app-1", false)
	require.NoError(t, err)
	// (8 + 8 + 0) / 3 = 5.33..., rounded to one decimal.
	assert.InDelta(t, 5.3, res.OverallScore, 1e-9)
}

func TestRunAggregationExcludingFailedScores(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, instructions, _ string) (string, error) {
		if strings.Contains(instructions, "long-term vision") {
			return "", errors.New("boom")
		}
		return goodResponse(8), nil
	}}
	f := newLifecycleFixture(t, ai, false)
	f.seedApplication("app-1", testAnswers())

	res, err := f.svc.Run(context.Background(), "app-1", false)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, res.OverallScore, 1e-9)
}

func TestRunConflictWhenAlreadyInFlight(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	f := newLifecycleFixture(t, ai, true)
	f.seedApplication("app-1", testAnswers())
	f.guard.held["app-1"] = true

	_, err := f.svc.Run(context.Background(), "app-1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, f.apps.statuses, "no status transition on conflict")
}

func TestRunUnknownApplication(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	f := newLifecycleFixture(t, ai, true)

	_, err := f.svc.Run(context.Background(), "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, f.guard.releases, "guard released even on early failure")
}

func TestRunNoAnswersMarksFailed(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	f := newLifecycleFixture(t, ai, true)
	f.seedApplication("app-1", nil)

	_, err := f.svc.Run(context.Background(), "app-1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBatchFailed)

	app, gerr := f.apps.Get(context.Background(), "app-1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.EvaluationFailed, app.Status)
	assert.Contains(t, app.Error, "no answers")
}

func TestRunBatchFailureMarksFailed(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return "", errors.New("boom") }}
	f := newLifecycleFixture(t, ai, true)
	f.seedApplication("app-1", testAnswers())

	_, err := f.svc.Run(context.Background(), "app-1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBatchFailed)

	app, gerr := f.apps.Get(context.Background(), "app-1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.EvaluationFailed, app.Status)
	assert.Contains(t, app.Error, "success rate")
	_, gerr = f.evals.GetByApplicationID(context.Background(), "app-1")
	assert.ErrorIs(t, gerr, domain.ErrNotFound, "no partial result persisted")
}

func TestReEvaluateReplacesPriorResult(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(9), nil }}
	f := newLifecycleFixture(t, ai, true)
	f.seedApplication("app-1", testAnswers())
	require.NoError(t, f.evals.Upsert(context.Background(), domain.EvaluationResult{
		ApplicationID: "app-1",
		OverallScore:  2.0,
		Scores:        map[string]domain.QuestionScore{"stale": {QuestionID: "stale", Score: 2}},
	}))

	res, err := f.svc.Run(context.Background(), "app-1", true)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, res.OverallScore, 1e-9)
	assert.Equal(t, 1, f.evals.deletes)

	stored, err := f.evals.GetByApplicationID(context.Background(), "app-1")
	require.NoError(t, err)
	assert.NotContains(t, stored.Scores, "stale", "prior result replaced, not merged")
	assert.InDelta(t, 9.0, stored.OverallScore, 1e-9)
}

func TestEnqueueUnknownApplication(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	f := newLifecycleFixture(t, ai, true)

	err := f.svc.Enqueue(context.Background(), "missing", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.queue.payloads)
}

func TestResultLifecycle(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(7), nil }}
	f := newLifecycleFixture(t, ai, true)
	f.seedApplication("app-1", testAnswers())

	// Pending: status only, no result yet.
	app, res, err := f.svc.Result(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationPending, app.Status)
	assert.Nil(t, res)

	_, err = f.svc.Run(context.Background(), "app-1", false)
	require.NoError(t, err)

	app, res, err = f.svc.Result(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationCompleted, app.Status)
	require.NotNil(t, res)
	assert.InDelta(t, 7.0, res.OverallScore, 1e-9)
}
