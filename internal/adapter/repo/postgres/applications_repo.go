package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// ApplicationRepo persists and loads applications from PostgreSQL.
type ApplicationRepo struct{ Pool PgxPool }

// NewApplicationRepo constructs an ApplicationRepo with the given pool.
func NewApplicationRepo(p PgxPool) *ApplicationRepo { return &ApplicationRepo{Pool: p} }

// Create inserts a new application and returns its id.
func (r *ApplicationRepo) Create(ctx domain.Context, a domain.Application) (string, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.Create")
	defer span.End()
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return "", fmt.Errorf("op=application.create: encode answers: %w", err)
	}
	status := a.Status
	if status == "" {
		status = domain.EvaluationPending
	}
	now := time.Now().UTC()
	q := `INSERT INTO applications (id, stage, answers, status, error, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.Pool.Exec(ctx, q, id, string(a.Stage), answers, string(status), a.Error, now, now); err != nil {
		return "", fmt.Errorf("op=application.create: %w", err)
	}
	return id, nil
}

// Get loads an application by id.
func (r *ApplicationRepo) Get(ctx domain.Context, id string) (domain.Application, error) {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.Get")
	defer span.End()
	q := `SELECT id, stage, answers, status, COALESCE(error,''), created_at, updated_at FROM applications WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var (
		a       domain.Application
		stage   string
		answers []byte
		status  string
	)
	if err := row.Scan(&a.ID, &stage, &answers, &status, &a.Error, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("op=application.get: %w", domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("op=application.get: %w", err)
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return domain.Application{}, fmt.Errorf("op=application.get: decode answers: %w", err)
	}
	a.Stage = domain.ParseStage(stage)
	a.Status = domain.EvaluationStatus(status)
	return a, nil
}

// UpdateStatus updates an application's status and optional error message.
func (r *ApplicationRepo) UpdateStatus(ctx domain.Context, id string, status domain.EvaluationStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.applications")
	ctx, span := tracer.Start(ctx, "applications.UpdateStatus")
	defer span.End()
	// Map nil errMsg to empty string to satisfy NOT NULL constraint on error column
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	q := `UPDATE applications SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, string(status), errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=application.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=application.update_status: %w", domain.ErrNotFound)
	}
	return nil
}
