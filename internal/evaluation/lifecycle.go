package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/adapter/observability"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// Service owns the evaluation lifecycle: it is the only writer of an
// application's status and of its evaluation result.
type Service struct {
	apps  domain.ApplicationRepository
	evals domain.EvaluationRepository
	queue domain.Queue
	guard domain.EvaluationGuard
	orch  *Orchestrator

	// countFailedScores keeps failed questions' zero scores in the overall
	// mean. Matches the published scoring policy; disable only for replays.
	countFailedScores bool
	now               func() time.Time
}

// NewService constructs the lifecycle service.
func NewService(
	apps domain.ApplicationRepository,
	evals domain.EvaluationRepository,
	queue domain.Queue,
	guard domain.EvaluationGuard,
	orch *Orchestrator,
	countFailedScores bool,
) *Service {
	return &Service{
		apps:              apps,
		evals:             evals,
		queue:             queue,
		guard:             guard,
		orch:              orch,
		countFailedScores: countFailedScores,
		now:               time.Now,
	}
}

// Submit persists a new application in pending state and enqueues its
// evaluation task. Returns the stored application.
func (s *Service) Submit(ctx context.Context, stage domain.ApplicantStage, answers []domain.Answer) (domain.Application, error) {
	tracer := otel.Tracer("evaluation.service")
	ctx, span := tracer.Start(ctx, "Submit")
	defer span.End()

	if len(answers) == 0 {
		return domain.Application{}, fmt.Errorf("%w: at least one answer is required", domain.ErrInvalidArgument)
	}
	app := domain.Application{
		ID:      uuid.NewString(),
		Stage:   stage,
		Answers: answers,
		Status:  domain.EvaluationPending,
	}
	id, err := s.apps.Create(ctx, app)
	if err != nil {
		return domain.Application{}, fmt.Errorf("op=evaluation.submit: %w", err)
	}
	app.ID = id
	if _, err := s.queue.EnqueueEvaluate(ctx, domain.EvaluateTaskPayload{ApplicationID: id}); err != nil {
		return domain.Application{}, fmt.Errorf("op=evaluation.submit: enqueue: %w", err)
	}
	slog.Info("application submitted", slog.String("application_id", id), slog.String("stage", string(stage)))
	return app, nil
}

// Enqueue requests an evaluation (or re-evaluation) of an existing
// application without running it inline.
func (s *Service) Enqueue(ctx context.Context, applicationID string, reevaluate bool) error {
	if _, err := s.apps.Get(ctx, applicationID); err != nil {
		return fmt.Errorf("op=evaluation.enqueue: %w", err)
	}
	if _, err := s.queue.EnqueueEvaluate(ctx, domain.EvaluateTaskPayload{
		ApplicationID: applicationID,
		Reevaluate:    reevaluate,
	}); err != nil {
		return fmt.Errorf("op=evaluation.enqueue: %w", err)
	}
	return nil
}

// Run executes one evaluation end to end. It is the single entry point the
// queue consumer calls for both first runs and re-evaluations.
//
// Concurrency contract: at most one run per application is in flight; a
// second caller gets domain.ErrConflict and nothing is mutated.
func (s *Service) Run(ctx context.Context, applicationID string, reevaluate bool) (domain.EvaluationResult, error) {
	tracer := otel.Tracer("evaluation.service")
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	acquired, err := s.guard.Acquire(ctx, applicationID)
	if err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.run: guard: %w", err)
	}
	if !acquired {
		return domain.EvaluationResult{}, fmt.Errorf("%w: evaluation already in flight for application %s", domain.ErrConflict, applicationID)
	}
	defer func() {
		if rerr := s.guard.Release(context.WithoutCancel(ctx), applicationID); rerr != nil {
			slog.Warn("failed to release evaluation guard",
				slog.String("application_id", applicationID), slog.Any("error", rerr))
		}
	}()

	app, err := s.apps.Get(ctx, applicationID)
	if err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.run: %w", err)
	}

	// Re-evaluation replaces, never merges: prior results go away before the
	// new run starts so a crash mid-run cannot leave a stale result marked
	// completed.
	if reevaluate {
		if err := s.evals.DeleteByApplicationID(ctx, applicationID); err != nil {
			return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.run: clear prior result: %w", err)
		}
		if err := s.apps.UpdateStatus(ctx, applicationID, domain.EvaluationPending, nil); err != nil {
			return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.run: %w", err)
		}
	}

	if len(app.Answers) == 0 {
		return domain.EvaluationResult{}, s.fail(ctx, applicationID,
			fmt.Errorf("%w: application has no answers", domain.ErrBatchFailed))
	}

	if err := s.apps.UpdateStatus(ctx, applicationID, domain.EvaluationProcessing, nil); err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.run: %w", err)
	}

	start := s.now()
	batch, err := s.orch.Evaluate(ctx, app.Answers, app.Stage)
	if err != nil {
		observability.ObserveEvaluation("failed", s.now().Sub(start))
		return domain.EvaluationResult{}, s.fail(ctx, applicationID, err)
	}

	result := domain.EvaluationResult{
		ApplicationID: applicationID,
		OverallScore:  s.aggregate(batch),
		Scores:        batch.Scores,
		CompletedAt:   s.now(),
	}
	if err := s.evals.Upsert(ctx, result); err != nil {
		return domain.EvaluationResult{}, s.fail(ctx, applicationID,
			fmt.Errorf("op=evaluation.run: persist result: %w", err))
	}
	if err := s.apps.UpdateStatus(ctx, applicationID, domain.EvaluationCompleted, nil); err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.run: %w", err)
	}
	observability.ObserveEvaluation("completed", s.now().Sub(start))
	observability.ObserveOverallScore(result.OverallScore)
	slog.Info("evaluation completed",
		slog.String("application_id", applicationID),
		slog.Float64("overall_score", result.OverallScore),
		slog.Int("questions", batch.Attempted))
	return result, nil
}

// Result returns the application's current status together with its result
// when completed.
func (s *Service) Result(ctx context.Context, applicationID string) (domain.Application, *domain.EvaluationResult, error) {
	app, err := s.apps.Get(ctx, applicationID)
	if err != nil {
		return domain.Application{}, nil, fmt.Errorf("op=evaluation.result: %w", err)
	}
	if app.Status != domain.EvaluationCompleted {
		return app, nil, nil
	}
	res, err := s.evals.GetByApplicationID(ctx, applicationID)
	if err != nil {
		return domain.Application{}, nil, fmt.Errorf("op=evaluation.result: %w", err)
	}
	return app, &res, nil
}

// fail records a terminal failure on the application. The original error is
// returned so callers and the queue handler see the cause.
func (s *Service) fail(ctx context.Context, applicationID string, cause error) error {
	msg := cause.Error()
	if err := s.apps.UpdateStatus(ctx, applicationID, domain.EvaluationFailed, &msg); err != nil {
		slog.Error("failed to mark application failed",
			slog.String("application_id", applicationID), slog.Any("error", err))
	}
	slog.Warn("evaluation failed",
		slog.String("application_id", applicationID), slog.Any("error", cause))
	return cause
}

// aggregate computes the overall score: the mean across per-question scores,
// rounded to one decimal. Failed questions count as zero unless the service
// was configured to exclude them.
func (s *Service) aggregate(b *Batch) float64 {
	var sum float64
	n := 0
	for id, qs := range b.Scores {
		if !s.countFailedScores && b.Failed[id] {
			continue
		}
		sum += qs.Score
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*10) / 10
}
