package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// EvaluationRepo persists and loads evaluation results from PostgreSQL.
type EvaluationRepo struct{ Pool PgxPool }

// NewEvaluationRepo constructs an EvaluationRepo with the given pool.
func NewEvaluationRepo(p PgxPool) *EvaluationRepo { return &EvaluationRepo{Pool: p} }

// Upsert writes the result in a single statement keyed by application_id, so
// a re-evaluation atomically replaces the prior result instead of merging
// with it.
func (r *EvaluationRepo) Upsert(ctx domain.Context, res domain.EvaluationResult) error {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.Upsert")
	defer span.End()
	scores, err := json.Marshal(res.Scores)
	if err != nil {
		return fmt.Errorf("op=evaluation.upsert: encode scores: %w", err)
	}
	q := `INSERT INTO evaluations (application_id, overall_score, scores, completed_at)
	VALUES ($1,$2,$3,$4)
	ON CONFLICT (application_id)
	DO UPDATE SET overall_score=EXCLUDED.overall_score, scores=EXCLUDED.scores, completed_at=EXCLUDED.completed_at`
	if _, err := r.Pool.Exec(ctx, q, res.ApplicationID, res.OverallScore, scores, res.CompletedAt.UTC()); err != nil {
		return fmt.Errorf("op=evaluation.upsert: %w", err)
	}
	return nil
}

// GetByApplicationID loads a result by its application_id.
func (r *EvaluationRepo) GetByApplicationID(ctx domain.Context, applicationID string) (domain.EvaluationResult, error) {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.GetByApplicationID")
	defer span.End()
	q := `SELECT application_id, overall_score, scores, completed_at FROM evaluations WHERE application_id=$1`
	row := r.Pool.QueryRow(ctx, q, applicationID)
	var (
		res    domain.EvaluationResult
		scores []byte
	)
	if err := row.Scan(&res.ApplicationID, &res.OverallScore, &scores, &res.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.get: %w", domain.ErrNotFound)
		}
		return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.get: %w", err)
	}
	if err := json.Unmarshal(scores, &res.Scores); err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("op=evaluation.get: decode scores: %w", err)
	}
	return res, nil
}

// DeleteByApplicationID removes any stored result for the application.
// Deleting a missing row is not an error.
func (r *EvaluationRepo) DeleteByApplicationID(ctx domain.Context, applicationID string) error {
	tracer := otel.Tracer("repo.evaluations")
	ctx, span := tracer.Start(ctx, "evaluations.DeleteByApplicationID")
	defer span.End()
	q := `DELETE FROM evaluations WHERE application_id=$1`
	if _, err := r.Pool.Exec(ctx, q, applicationID); err != nil {
		return fmt.Errorf("op=evaluation.delete: %w", err)
	}
	return nil
}
