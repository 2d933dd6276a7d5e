package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	execSQL  []string
	execArgs [][]any
	execTag  pgconn.CommandTag
	execErr  error
	row      pgx.Row
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	return p.execTag, p.execErr
}

func (p *fakePool) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row { return p.row }

func (p *fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, nil
}

func TestApplicationCreateGeneratesID(t *testing.T) {
	t.Parallel()
	pool := &fakePool{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := NewApplicationRepo(pool)

	id, err := repo.Create(context.Background(), domain.Application{
		Stage:   domain.StageIdea,
		Answers: []domain.Answer{{QuestionID: "problem", Text: "something specific"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "INSERT INTO applications")

	// Answers travel as JSON.
	args := pool.execArgs[0]
	require.Len(t, args, 7)
	var answers []domain.Answer
	require.NoError(t, json.Unmarshal(args[2].([]byte), &answers))
	require.Len(t, answers, 1)
	assert.Equal(t, "problem", answers[0].QuestionID)
	assert.Equal(t, string(domain.EvaluationPending), args[3])
}

func TestApplicationGetNotFound(t *testing.T) {
	t.Parallel()
	pool := &fakePool{row: fakeRow{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := NewApplicationRepo(pool)

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplicationGetDecodesRow(t *testing.T) {
	t.Parallel()
	answers, err := json.Marshal([]domain.Answer{{QuestionID: "vision", Text: "long term"}})
	require.NoError(t, err)
	now := time.Now().UTC()
	pool := &fakePool{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*string) = "app-1"
		*dest[1].(*string) = "early_revenue"
		*dest[2].(*[]byte) = answers
		*dest[3].(*string) = "completed"
		*dest[4].(*string) = ""
		*dest[5].(*time.Time) = now
		*dest[6].(*time.Time) = now
		return nil
	}}}
	repo := NewApplicationRepo(pool)

	app, err := repo.Get(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", app.ID)
	assert.Equal(t, domain.StageEarlyRevenue, app.Stage)
	assert.Equal(t, domain.EvaluationCompleted, app.Status)
	require.Len(t, app.Answers, 1)
	assert.Equal(t, "vision", app.Answers[0].QuestionID)
}

func TestApplicationUpdateStatusNotFound(t *testing.T) {
	t.Parallel()
	pool := &fakePool{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := NewApplicationRepo(pool)

	err := repo.UpdateStatus(context.Background(), "missing", domain.EvaluationProcessing, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluationUpsertReplaces(t *testing.T) {
	t.Parallel()
	pool := &fakePool{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := NewEvaluationRepo(pool)

	err := repo.Upsert(context.Background(), domain.EvaluationResult{
		ApplicationID: "app-1",
		OverallScore:  7.5,
		Scores: map[string]domain.QuestionScore{
			"problem": {QuestionID: "problem", Score: 7.5},
		},
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "ON CONFLICT (application_id)")
	assert.Contains(t, pool.execSQL[0], "DO UPDATE SET")
}

func TestEvaluationGetNotFound(t *testing.T) {
	t.Parallel()
	pool := &fakePool{row: fakeRow{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := NewEvaluationRepo(pool)

	_, err := repo.GetByApplicationID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvaluationDelete(t *testing.T) {
	t.Parallel()
	pool := &fakePool{execTag: pgconn.NewCommandTag("DELETE 1")}
	repo := NewEvaluationRepo(pool)

	require.NoError(t, repo.DeleteByApplicationID(context.Background(), "app-1"))
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "DELETE FROM evaluations")
}
