// Package domain defines the core entities and ports of the scoring engine.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrBatchFailed       = errors.New("batch failed")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrInternal          = errors.New("internal error")
)

// ApplicantStage selects which rubric variant applies to a question.
type ApplicantStage string

const (
	StageIdea         ApplicantStage = "idea"
	StageEarlyRevenue ApplicantStage = "early_revenue"
)

// ParseStage normalizes a stored stage marker; unknown values fall back to idea.
func ParseStage(s string) ApplicantStage {
	if ApplicantStage(s) == StageEarlyRevenue {
		return StageEarlyRevenue
	}
	return StageIdea
}

// EvaluationStatus is owned exclusively by the lifecycle manager.
// Transitions: pending → processing → completed|failed;
// completed|failed → pending → processing on re-evaluation.
type EvaluationStatus string

const (
	EvaluationPending    EvaluationStatus = "pending"
	EvaluationProcessing EvaluationStatus = "processing"
	EvaluationCompleted  EvaluationStatus = "completed"
	EvaluationFailed     EvaluationStatus = "failed"
)

// Answer is one question/answer pair as submitted by the form collaborator.
// QuestionText is optional free text used as the resolver's last tier.
type Answer struct {
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text,omitempty"`
	Text         string `json:"text"`
}

// Application is the persisted submission record. The engine is the sole
// writer of Status and Error.
type Application struct {
	ID        string
	Stage     ApplicantStage
	Answers   []Answer
	Status    EvaluationStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuestionScore is the structured outcome of evaluating one answer.
// Invariant: Score in [0,10]; a failed question carries score 0 and a
// diagnostic entry in Improvements, never an empty result.
type QuestionScore struct {
	QuestionID   string   `json:"question_id"`
	Score        float64  `json:"score"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	RawResponse  string   `json:"raw_response,omitempty"`
}

// EvaluationResult is the aggregate outcome persisted per application.
// OverallScore is the mean of all per-question scores rounded to one decimal.
type EvaluationResult struct {
	ApplicationID string
	OverallScore  float64
	Scores        map[string]QuestionScore
	CompletedAt   time.Time
}

// EvaluateTaskPayload is the queue message that triggers an evaluation.
type EvaluateTaskPayload struct {
	ApplicationID string `json:"application_id"`
	Reevaluate    bool   `json:"reevaluate,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Repositories (ports)

type ApplicationRepository interface {
	Create(ctx Context, a Application) (string, error)
	Get(ctx Context, id string) (Application, error)
	UpdateStatus(ctx Context, id string, status EvaluationStatus, errMsg *string) error
}

type EvaluationRepository interface {
	// Upsert replaces any prior result for the application in one atomic write.
	Upsert(ctx Context, r EvaluationResult) error
	GetByApplicationID(ctx Context, applicationID string) (EvaluationResult, error)
	DeleteByApplicationID(ctx Context, applicationID string) error
}

// Queue (port)

type Queue interface {
	EnqueueEvaluate(ctx Context, payload EvaluateTaskPayload) (string, error)
}

// AIClient (port): send a rubric and an answer, receive free text back.

type AIClient interface {
	Evaluate(ctx Context, rubricInstructions, answerText string) (string, error)
}

// EvaluationGuard enforces at most one in-flight evaluation per application.
// Acquire returns false when a run is already in progress.

type EvaluationGuard interface {
	Acquire(ctx Context, applicationID string) (bool, error)
	Release(ctx Context, applicationID string) error
}

// Context aliases context.Context so ports read uniformly across adapters.
type Context = context.Context
