package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
	"github.com/fairyhunter13/fellowship-scoring-engine/internal/evaluation"
)

// Server exposes the scoring engine over HTTP.
type Server struct {
	svc      *evaluation.Service
	validate *validator.Validate
}

// NewServer constructs a Server.
func NewServer(svc *evaluation.Service) *Server {
	return &Server{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type submitAnswer struct {
	QuestionID   string `json:"question_id" validate:"required,max=128"`
	QuestionText string `json:"question_text" validate:"max=1024"`
	Text         string `json:"text" validate:"required"`
}

type submitRequest struct {
	Stage   string         `json:"stage" validate:"omitempty,oneof=idea early_revenue"`
	Answers []submitAnswer `json:"answers" validate:"required,min=1,max=50,dive"`
}

// SubmitApplication accepts a completed application and queues its
// evaluation. Responds 202 with the new application id.
func (s *Server) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument), nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), validationDetails(err))
		return
	}

	answers := make([]domain.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, domain.Answer{
			QuestionID:   a.QuestionID,
			QuestionText: a.QuestionText,
			Text:         a.Text,
		})
	}
	app, err := s.svc.Submit(r.Context(), domain.ParseStage(req.Stage), answers)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	LoggerFrom(r).Info("application accepted",
		slog.String("application_id", app.ID),
		slog.Int("answers", len(app.Answers)))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     app.ID,
		"status": string(app.Status),
	})
}

// TriggerEvaluate queues a first evaluation of an existing application.
func (s *Server) TriggerEvaluate(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, false)
}

// TriggerReEvaluate queues a re-evaluation. The prior result is replaced in
// full once the new run completes.
func (s *Server) TriggerReEvaluate(w http.ResponseWriter, r *http.Request) {
	s.enqueue(w, r, true)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, reevaluate bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, r, fmt.Errorf("%w: missing application id", domain.ErrInvalidArgument), nil)
		return
	}
	if err := s.svc.Enqueue(r.Context(), id, reevaluate); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":         id,
		"reevaluate": reevaluate,
	})
}

type resultBody struct {
	OverallScore float64                         `json:"overall_score"`
	Scores       map[string]domain.QuestionScore `json:"scores"`
	CompletedAt  time.Time                       `json:"completed_at"`
}

type resultResponse struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Result *resultBody `json:"result,omitempty"`
}

// GetResult returns the application's status, plus the scored result once
// completed or the failure reason once failed.
func (s *Server) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	app, res, err := s.svc.Result(r.Context(), id)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	resp := resultResponse{ID: app.ID, Status: string(app.Status)}
	if app.Status == domain.EvaluationFailed {
		resp.Error = app.Error
	}
	if res != nil {
		resp.Result = &resultBody{
			OverallScore: res.OverallScore,
			Scores:       res.Scores,
			CompletedAt:  res.CompletedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Healthz reports liveness.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// validationDetails flattens validator errors into field to rule pairs for
// the error envelope.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = fe.Tag()
	}
	return details
}
