package attempt

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"examforge/internal/app/apiresp"
	"examforge/internal/exam"
	"examforge/internal/grading"

	"github.com/go-chi/chi/v5"
)

// HandlerDeps are the collaborators every new session is wired with.
type HandlerDeps struct {
	Exams     ExamSource
	Questions QuestionSource
	Grader    OpenEndedGrader
	Recorder  AttemptRecorder
	Bridge    *Bridge
	Logger    *log.Logger
}

type Handler struct {
	deps     HandlerDeps
	registry *Registry
}

func NewHandler(deps HandlerDeps, registry *Registry) *Handler {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Handler{deps: deps, registry: registry}
}

type startSessionRequest struct {
	ExamID string `json:"exam_id"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ExamID) == "" {
		apiresp.WriteError(w, r, http.StatusBadRequest, "exam_id is required")
		return
	}

	s, err := NewSession(SessionConfig{
		ExamID:    req.ExamID,
		Exams:     h.deps.Exams,
		Questions: h.deps.Questions,
		Grader:    h.deps.Grader,
		Recorder:  h.deps.Recorder,
		Bridge:    h.deps.Bridge,
		Logger:    h.deps.Logger,
	})
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.Load(r.Context()); err != nil {
		switch {
		case errors.Is(err, exam.ErrExamNotFound):
			apiresp.WriteError(w, r, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrReattemptLimit):
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
		default:
			h.deps.Logger.Printf(`{"level":"error","component":"attempt_handler","msg":"session load failed","error":%q}`, err.Error())
			apiresp.WriteError(w, r, http.StatusInternalServerError, "failed to start session")
		}
		return
	}

	h.registry.Add(s)
	apiresp.WriteOK(w, r, http.StatusCreated, s.View())
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, s.View())
}

type answerRequest struct {
	Kind   grading.AnswerKind `json:"kind"`
	Option int                `json:"option"`
	Blanks []string           `json:"blanks"`
	Text   string             `json:"text"`
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	var ans grading.Answer
	switch req.Kind {
	case grading.AnswerChoice:
		ans = grading.ChoiceAnswer(req.Option)
	case grading.AnswerBlanks:
		ans = grading.BlanksAnswer(req.Blanks...)
	case grading.AnswerText:
		ans = grading.TextAnswer(req.Text)
	default:
		apiresp.WriteError(w, r, http.StatusBadRequest, "unknown answer kind")
		return
	}

	if err := s.UpdateAnswer(chi.URLParam(r, "questionID"), ans); err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, s.View())
}

func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		return
	}

	res, err := s.EvaluateQuestion(r.Context(), chi.URLParam(r, "questionID"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		return
	}
	if err := s.SaveForLater(r.Context()); err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "failed to save attempt")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"saved": true})
}

type submitRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		return
	}

	var req submitRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	rec, err := s.Submit(r.Context(), req.Force)
	if err != nil {
		var pending *PendingError
		if errors.As(err, &pending) {
			apiresp.WriteError(w, r, http.StatusConflict, pending.Error())
			return
		}
		if errors.Is(err, ErrNotInProgress) {
			apiresp.WriteError(w, r, http.StatusConflict, err.Error())
			return
		}
		h.deps.Logger.Printf(`{"level":"error","component":"attempt_handler","session_id":%q,"msg":"submit failed","error":%q}`, s.ID, err.Error())
		apiresp.WriteError(w, r, http.StatusInternalServerError, "failed to submit attempt")
		return
	}

	// A submitted session is done; the record outlives it in the
	// attempts table.
	h.registry.Remove(s.ID)
	apiresp.WriteOK(w, r, http.StatusOK, rec)
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	s, ok := h.registry.Remove(chi.URLParam(r, "sessionID"))
	if !ok {
		apiresp.WriteError(w, r, http.StatusNotFound, "session not found")
		return
	}
	if err := s.Close(r.Context()); err != nil {
		h.deps.Logger.Printf(`{"level":"warn","component":"attempt_handler","session_id":%q,"msg":"save on close failed","error":%q}`, s.ID, err.Error())
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"closed": true})
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownQuestion):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyAnswer), errors.Is(err, ErrAnswerShape):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotInProgress), errors.Is(err, ErrQuestionLocked), errors.Is(err, ErrEvaluationInFlight):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ErrEvaluationFailed):
		apiresp.WriteError(w, r, http.StatusBadGateway, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
