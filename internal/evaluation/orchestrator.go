package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/observability"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/rubric"
	"github.com/fairyhunter13/fellowship-scoring-engine/pkg/textx"
)

// OrchestratorConfig tunes the concurrency and retry behavior of a batch run.
type OrchestratorConfig struct {
	// MaxConcurrent bounds in-flight evaluation calls per batch.
	MaxConcurrent int
	// MaxAttempts is the total number of tries per call (first + retries).
	MaxAttempts uint64
	// InitialBackoff is the base delay between retries; doubles each attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
	// CallTimeout bounds one evaluation call, separate from backoff delays.
	CallTimeout time.Duration
	// MinAnswerChars gates answers too short to evaluate.
	MinAnswerChars int
	// SuccessThreshold is the minimum succeeded/attempted fraction for the
	// batch to be accepted rather than reported as a batch failure.
	SuccessThreshold float64
	// MaxAnswerTokens truncates long answers before dispatch; 0 disables.
	MaxAnswerTokens int
}

// DefaultOrchestratorConfig returns the production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrent:    8,
		MaxAttempts:      3,
		InitialBackoff:   time.Second,
		MaxBackoff:       20 * time.Second,
		CallTimeout:      30 * time.Second,
		MinAnswerChars:   10,
		SuccessThreshold: 0.5,
		MaxAnswerTokens:  2000,
	}
}

// Orchestrator dispatches one evaluation call per scorable answer
// concurrently, retries individual calls with exponential backoff, parses
// the responses, and enforces the batch success-rate threshold.
type Orchestrator struct {
	ai       domain.AIClient
	catalog  *rubric.Catalog
	resolver *rubric.Resolver
	tokens   *tokencount.Counter
	cfg      OrchestratorConfig
}

// NewOrchestrator constructs an Orchestrator with its dependencies.
func NewOrchestrator(ai domain.AIClient, catalog *rubric.Catalog, resolver *rubric.Resolver, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		ai:       ai,
		catalog:  catalog,
		resolver: resolver,
		tokens:   tokencount.NewCounter(),
		cfg:      cfg,
	}
}

type task struct {
	questionID string
	key        rubric.Key
	prompt     string
	answer     string
}

type outcome struct {
	score domain.QuestionScore
	ok    bool
}

// Batch is the settled result of one orchestrated run. Scores holds exactly
// one entry per dispatched question, failed ones included as zero-score
// diagnostics; Failed marks which of those entries failed their call or
// parse.
type Batch struct {
	Scores    map[string]domain.QuestionScore
	Attempted int
	Succeeded int
	Failed    map[string]bool
}

// Evaluate runs the full batch pipeline. A threshold miss or an empty
// scorable set returns an error wrapping domain.ErrBatchFailed.
func (o *Orchestrator) Evaluate(ctx context.Context, answers []domain.Answer, stage domain.ApplicantStage) (*Batch, error) {
	tracer := otel.Tracer("evaluation.orchestrator")
	ctx, span := tracer.Start(ctx, "Evaluate")
	defer span.End()

	tasks := o.gate(answers, stage)
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no scorable answers in batch", domain.ErrBatchFailed)
	}

	// Fail-soft join: every task settles and owns exactly one result slot.
	results := make([]outcome, len(tasks))
	sem := make(chan struct{}, o.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.evaluateOne(ctx, t)
		}(i, t)
	}
	wg.Wait()

	batch := &Batch{
		Scores:    make(map[string]domain.QuestionScore, len(tasks)),
		Attempted: len(tasks),
		Failed:    make(map[string]bool),
	}
	for _, res := range results {
		if res.ok {
			batch.Succeeded++
		} else {
			batch.Failed[res.score.QuestionID] = true
		}
		batch.Scores[res.score.QuestionID] = res.score
	}
	rate := float64(batch.Succeeded) / float64(batch.Attempted)
	slog.Info("evaluation batch settled",
		slog.Int("attempted", batch.Attempted),
		slog.Int("succeeded", batch.Succeeded),
		slog.Float64("success_rate", rate))
	if rate < o.cfg.SuccessThreshold {
		return nil, fmt.Errorf("%w: success rate %.2f below threshold %.2f (%d/%d)",
			domain.ErrBatchFailed, rate, o.cfg.SuccessThreshold, batch.Succeeded, batch.Attempted)
	}
	return batch, nil
}

// gate sanitizes and filters the answer set, resolving each question to a
// rubric. Skips are logged, never fatal.
func (o *Orchestrator) gate(answers []domain.Answer, stage domain.ApplicantStage) []task {
	tasks := make([]task, 0, len(answers))
	for _, a := range answers {
		text := textx.SanitizeText(a.Text)
		if len(text) < o.cfg.MinAnswerChars {
			slog.Info("skipping answer below minimum length",
				slog.String("question_id", a.QuestionID),
				slog.Int("length", len(text)))
			continue
		}
		key, ok := o.resolver.Resolve(a.QuestionID, a.QuestionText, stage)
		if !ok {
			slog.Warn("no rubric available for question, skipping",
				slog.String("question_id", a.QuestionID))
			continue
		}
		r, ok := o.catalog.Get(key)
		if !ok {
			// Resolver only returns catalog-backed keys; guard anyway.
			slog.Warn("resolved key missing from catalog, skipping",
				slog.String("question_id", a.QuestionID),
				slog.String("rubric_key", string(key)))
			continue
		}
		tasks = append(tasks, task{
			questionID: a.QuestionID,
			key:        key,
			prompt:     buildInstructions(r.Prompt),
			answer:     o.truncateAnswer(text),
		})
	}
	return tasks
}

// evaluateOne runs one call with per-call timeout and independent retry.
// Exhausted retries downgrade to a zero-score diagnostic entry so a single
// bad question never aborts the batch.
func (o *Orchestrator) evaluateOne(ctx context.Context, t task) outcome {
	var raw string
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
		var err error
		raw, err = o.ai.Evaluate(callCtx, t.prompt, t.answer)
		if err != nil && errors.Is(err, domain.ErrInvalidArgument) {
			// Malformed request or bad credentials; retrying cannot help.
			return backoff.Permanent(err)
		}
		return err
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.cfg.InitialBackoff
	expo.MaxInterval = o.cfg.MaxBackoff
	expo.Multiplier = 2.0
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, o.cfg.MaxAttempts-1), ctx)

	if err := backoff.Retry(op, bo); err != nil {
		slog.Warn("evaluation call exhausted retries",
			slog.String("question_id", t.questionID),
			slog.String("rubric_key", string(t.key)),
			slog.Any("error", err))
		return outcome{score: failedScore(t.questionID, err.Error()), ok: false}
	}
	qs, ok := Parse(t.questionID, raw)
	if ok {
		observability.ObserveQuestionScore(string(t.key), qs.Score)
	} else {
		slog.Warn("evaluation response failed to parse",
			slog.String("question_id", t.questionID),
			slog.String("rubric_key", string(t.key)))
	}
	return outcome{score: qs, ok: ok}
}

// truncateAnswer caps the answer at the configured token budget.
func (o *Orchestrator) truncateAnswer(text string) string {
	if o.cfg.MaxAnswerTokens <= 0 {
		return text
	}
	out, err := o.tokens.Truncate(text, o.cfg.MaxAnswerTokens)
	if err != nil {
		// Token counting is best-effort; fall back to a character cap.
		maxChars := o.cfg.MaxAnswerTokens * 4
		if len(text) > maxChars {
			return text[:maxChars]
		}
		return text
	}
	return out
}
