package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/rubric"
)

type fakeAI struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, instructions, answer string) (string, error)
}

func (f *fakeAI) Evaluate(_ domain.Context, instructions, answer string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call, instructions, answer)
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testOrchestratorConfig() OrchestratorConfig {
	cfg := DefaultOrchestratorConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, ai domain.AIClient, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	catalog, err := rubric.Load()
	require.NoError(t, err)
	return NewOrchestrator(ai, catalog, rubric.NewResolver(catalog), cfg)
}

func goodResponse(score float64) string {
	return fmt.Sprintf("SCORE: %g/10\nFEEDBACK:\n– Strengths: solid.\n– Areas for Improvement: minor.", score)
}

func testAnswers() []domain.Answer {
	return []domain.Answer{
		{QuestionID: "problem", Text: "We are solving a concrete scheduling problem for clinics."},
		{QuestionID: "solution", Text: "A lightweight scheduling layer that plugs into existing EHRs."},
		{QuestionID: "vision", Text: "Become the default operations layer for independent clinics."},
	}
}

func TestEvaluateAllSucceed(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(8), nil }}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	batch, err := o.Evaluate(context.Background(), testAnswers(), domain.StageIdea)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Attempted)
	assert.Equal(t, 3, batch.Succeeded)
	assert.Empty(t, batch.Failed)
	require.Len(t, batch.Scores, 3)
	for _, qs := range batch.Scores {
		assert.InDelta(t, 8.0, qs.Score, 1e-9)
	}
}

func TestEvaluateFailSoftAboveThreshold(t *testing.T) {
	t.Parallel()
	// The "vision" question always fails; the other two succeed.
	ai := &fakeAI{fn: func(_ int, instructions, _ string) (string, error) {
		if strings.Contains(instructions, "long-term vision") {
			return "", errors.New("boom")
		}
		return goodResponse(6), nil
	}}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	batch, err := o.Evaluate(context.Background(), testAnswers(), domain.StageIdea)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Succeeded)
	require.Len(t, batch.Scores, 3)

	failed := batch.Scores["vision"]
	assert.True(t, batch.Failed["vision"])
	assert.Zero(t, failed.Score)
	require.NotEmpty(t, failed.Improvements)
	assert.Contains(t, failed.Improvements[0], "evaluation failed")
}

func TestEvaluateBelowThresholdFailsBatch(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return "", errors.New("boom") }}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	_, err := o.Evaluate(context.Background(), testAnswers(), domain.StageIdea)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBatchFailed)
}

func TestEvaluateUnparseableCountsAsFailure(t *testing.T) {
	t.Parallel()
	// One parseable and one garbage response out of two: success rate is
	// exactly the 0.5 threshold, so the batch is accepted.
	ai := &fakeAI{fn: func(_ int, instructions, _ string) (string, error) {
		if strings.Contains(instructions, "problem they are solving") {
			return goodResponse(7), nil
		}
		return "no score here, just vibes", nil
	}}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	answers := testAnswers()[:2]
	batch, err := o.Evaluate(context.Background(), answers, domain.StageIdea)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Succeeded)
	assert.True(t, batch.Failed["solution"])
	assert.Zero(t, batch.Scores["solution"].Score)
}

func TestEvaluateSkipsUnscorableAnswers(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(5), nil }}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	answers := []domain.Answer{
		{QuestionID: "problem", Text: "A specific scheduling problem for small clinics."},
		{QuestionID: "solution", Text: "too short"}, // below minimum length
		{QuestionID: "favorite_color", Text: "Blue, definitely blue, always has been."}, // no rubric
	}
	batch, err := o.Evaluate(context.Background(), answers, domain.StageIdea)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Attempted)
	require.Len(t, batch.Scores, 1)
	assert.Contains(t, batch.Scores, "problem")
}

func TestEvaluateNoScorableAnswersFailsBatch(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) { return goodResponse(5), nil }}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	answers := []domain.Answer{
		{QuestionID: "unknown_question", Text: "A long enough answer with no matching rubric."},
	}
	_, err := o.Evaluate(context.Background(), answers, domain.StageIdea)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBatchFailed)
	assert.Zero(t, ai.callCount())
}

func TestEvaluateRetriesTransientErrors(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(call int, _, _ string) (string, error) {
		if call == 1 {
			return "", fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
		}
		return goodResponse(9), nil
	}}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	answers := testAnswers()[:1]
	batch, err := o.Evaluate(context.Background(), answers, domain.StageIdea)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, 2, ai.callCount())
}

func TestEvaluateDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()
	ai := &fakeAI{fn: func(_ int, _, _ string) (string, error) {
		return "", fmt.Errorf("%w: chat status 401", domain.ErrInvalidArgument)
	}}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	answers := testAnswers()[:1]
	_, err := o.Evaluate(context.Background(), answers, domain.StageIdea)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBatchFailed)
	assert.Equal(t, 1, ai.callCount())
}

func TestEvaluateUsesStageVariantPrompt(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var seen []string
	ai := &fakeAI{fn: func(_ int, instructions, _ string) (string, error) {
		mu.Lock()
		seen = append(seen, instructions)
		mu.Unlock()
		return goodResponse(7), nil
	}}
	o := newTestOrchestrator(t, ai, testOrchestratorConfig())

	answers := []domain.Answer{
		{QuestionID: "traction", Text: "We have 40 paying customers and 20% month over month growth."},
	}
	_, err := o.Evaluate(context.Background(), answers, domain.StageEarlyRevenue)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], "commercial traction")
}
